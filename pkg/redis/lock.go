package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrJobRunning is returned when another replica already holds the job lock.
var ErrJobRunning = errors.New("job already running")

// ErrLockNotHeld is returned when releasing a lock this process no longer
// owns, usually because the TTL expired mid-job.
var ErrLockNotHeld = errors.New("lock not held")

// JobLock is one held lock
type JobLock struct {
	client *Client
	key    string
	value  string
}

// Locker serializes batch jobs across replicas
type Locker struct {
	client    *Client
	keyPrefix string
}

// NewLocker creates a new Locker
func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "fern:job:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire takes the named job lock or returns ErrJobRunning. There is no
// retry path: batch jobs are periodic, so a busy lock means skip this run.
func (l *Locker) Acquire(ctx context.Context, job string, ttl time.Duration) (*JobLock, error) {
	key := l.keyPrefix + job
	value := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobRunning
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired job lock: %s", job)

	return &JobLock{
		client: l.client,
		key:    key,
		value:  value,
	}, nil
}

// Release releases the lock. The Lua check-and-delete ensures a replica
// whose TTL expired cannot release a lock someone else now holds.
func (lock *JobLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released job lock: %s", lock.key)
	return nil
}
