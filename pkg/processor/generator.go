package processor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/review"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const generationJob = "candidate-generation"

// GeneratorConfig holds the generation job policy.
type GeneratorConfig struct {
	BatchSize         int
	Interval          time.Duration
	LockTTL           time.Duration
	AutoAcceptEnabled bool
}

// Generator runs candidate generation passes over unlinked source records.
// A Redis lock serializes passes across replicas; a pass walks the whole
// unlinked set in keyset-paged batches.
type Generator struct {
	logger ectologger.Logger
	engine *matching.Engine
	queue  *review.Queue
	locker *redis.Locker
	config GeneratorConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewGenerator(
	logger ectologger.Logger,
	engine *matching.Engine,
	queue *review.Queue,
	locker *redis.Locker,
	config GeneratorConfig,
) *Generator {
	if config.BatchSize < 1 {
		config.BatchSize = 200
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Minute
	}
	return &Generator{
		logger: logger,
		engine: engine,
		queue:  queue,
		locker: locker,
		config: config,
	}
}

// Start launches the periodic generation loop.
func (g *Generator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(1)
	go g.loop(ctx)

	g.logger.WithContext(ctx).WithFields(map[string]any{
		"interval":    g.config.Interval.String(),
		"auto_accept": g.config.AutoAcceptEnabled,
	}).Info("Candidate generation job started")
}

// Stop stops the loop and waits for an in-flight pass to finish.
func (g *Generator) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Generator) loop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.WithContext(ctx).Info("Candidate generation job stopping")
			return
		case <-ticker.C:
			if err := g.RunPass(ctx, PassOptions{}); err != nil && !errors.Is(err, redis.ErrJobRunning) {
				g.logger.WithContext(ctx).WithError(err).Error("Candidate generation pass failed")
			}
		}
	}
}

// PassOptions narrows a generation pass. Zero values mean no restriction.
type PassOptions struct {
	SourceSystem  string
	Limit         int     // max records scanned this pass
	MinConfidence float64 // drop candidates scoring below this
}

// RunPass runs one full generation pass under the job lock. An empty
// source system scans every system. Callers triggering it by hand get
// ErrJobRunning when a pass is already in flight somewhere.
func (g *Generator) RunPass(ctx context.Context, opts PassOptions) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Generator.RunPass")
	defer span.End()

	lock, err := g.locker.Acquire(ctx, generationJob, g.config.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			g.logger.WithContext(ctx).WithError(err).Warn("Failed to release generation lock")
		}
	}()

	start := time.Now()
	log := g.logger.WithContext(ctx).WithFields(map[string]any{"source_system": opts.SourceSystem})

	scanned, found := 0, 0
	afterID := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batchSize := g.config.BatchSize
		if opts.Limit > 0 && opts.Limit-scanned < batchSize {
			batchSize = opts.Limit - scanned
		}
		if batchSize < 1 {
			break
		}

		result, err := g.engine.GenerateBatch(ctx, opts.SourceSystem, afterID, batchSize, opts.MinConfidence)
		if err != nil {
			return err
		}

		scanned += result.RecordsScanned
		found += result.CandidatesFound
		for tier, n := range result.ByTier {
			metrics.CandidatesGeneratedTotal.WithLabelValues(strconv.Itoa(tier)).Add(float64(n))
		}

		if g.config.AutoAcceptEnabled {
			g.autoAccept(ctx, result.Tier0Candidates)
		}

		if result.RecordsScanned < batchSize {
			break
		}
		afterID = result.LastRecordID
	}

	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	log.WithFields(map[string]any{
		"records_scanned":  scanned,
		"candidates_found": found,
		"duration":         time.Since(start).String(),
	}).Info("Candidate generation pass finished")

	return nil
}

// autoAccept links tier-0 candidates without review. Failures are expected
// here (a sibling acceptance supersedes the rest of the record's candidates
// mid-loop), so they log and move on.
func (g *Generator) autoAccept(ctx context.Context, candidateIDs []string) {
	for _, id := range candidateIDs {
		if _, err := g.queue.AutoAccept(ctx, id); err != nil {
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"candidate_id": id,
			}).Debug("Auto-accept skipped")
		}
	}
}
