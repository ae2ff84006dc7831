package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	Tx
	open       bool
	commits    int
	rollbacks  int
	statements int
}

func (f *fakeTx) IsOpen() bool { return f.open }

func (f *fakeTx) Commit(ctx context.Context) error {
	f.commits++
	f.open = false
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rollbacks++
	f.open = false
	return nil
}

func (f *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.statements++
	return nil, nil
}

func TestGetTxJoinsOpenTransaction(t *testing.T) {
	outer := &fakeTx{open: true}
	ctx := context.WithValue(context.Background(), txKey, Tx(outer))

	d := &DatabaseInstance{}
	ctxTx, tx, err := d.GetTx(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ctx, ctxTx)

	// statements run on the shared transaction
	_, err = tx.ExecContext(ctxTx, "UPDATE match_candidates SET status = 'accepted'")
	require.NoError(t, err)
	assert.Equal(t, 1, outer.statements)

	// a joiner finishing its work must not finish the opener's transaction
	require.NoError(t, tx.Commit(ctxTx))
	require.NoError(t, tx.Rollback(ctxTx))
	assert.Equal(t, 0, outer.commits)
	assert.Equal(t, 0, outer.rollbacks)
	assert.True(t, outer.open)
}

func TestStatementsJoinContextTransaction(t *testing.T) {
	outer := &fakeTx{open: true}
	ctx := context.WithValue(context.Background(), txKey, Tx(outer))

	d := &DatabaseInstance{}
	_, err := d.ExecContext(ctx, "UPDATE entity_links SET is_active = false")
	require.NoError(t, err)
	assert.Equal(t, 1, outer.statements)
}

func TestOpenTxIgnoresClosedTransaction(t *testing.T) {
	closed := &fakeTx{open: false}
	ctx := context.WithValue(context.Background(), txKey, Tx(closed))
	assert.Nil(t, openTx(ctx))
	assert.Nil(t, openTx(context.Background()))
}
