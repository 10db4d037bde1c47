package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func newMockStore() (*Store, *mockBeginner, *mockTx) {
	tx := &mockTx{mockDBTX: new(mockDBTX)}
	conn := &mockBeginner{mockDBTX: new(mockDBTX), tx: tx}
	return NewStore(conn), conn, tx
}

func TestStore_RunInTx_Commit(t *testing.T) {
	store, conn, tx := newMockStore()
	ctx := context.Background()

	tx.mockDBTX.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		return repos.RetryPolicies().Delete(ctx, "rp_1")
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	tx.mockDBTX.AssertExpectations(t)
	conn.mockDBTX.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_RunInTx_RollbackOnError(t *testing.T) {
	store, _, tx := newMockStore()
	boom := errors.New("boom")

	err := store.RunInTx(context.Background(), func(context.Context, types.Repositories) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestStore_RunInTx_BeginAndCommitFailures(t *testing.T) {
	store, conn, tx := newMockStore()

	conn.beginErr = errors.New("pool exhausted")
	err := store.RunInTx(context.Background(), func(context.Context, types.Repositories) error { return nil })
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))

	conn.beginErr = nil
	tx.commitErr = errors.New("serialization failure")
	err = store.RunInTx(context.Background(), func(context.Context, types.Repositories) error { return nil })
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestStore_Close(t *testing.T) {
	store, conn, _ := newMockStore()
	require.NoError(t, store.Close())
	assert.True(t, conn.closed)
}

func TestApplySchema(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("Exec", ctx, Schema, mock.Anything).Return(pgconn.NewCommandTag(""), nil)

	require.NoError(t, ApplySchema(ctx, db))
	assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS retry_schedules")
	assert.Contains(t, Schema, "UNIQUE (retry_schedule_id, attempt_number)")
	db.AssertExpectations(t)
}
