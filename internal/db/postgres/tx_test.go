package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx реализует только Commit/Rollback; остальные методы pgx.Tx
// в этих тестах не вызываются.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	txs      []*fakeTx
	beginErr error
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestRunInTx_Commit(t *testing.T) {
	db := &fakeBeginner{}

	err := RunInTx(context.Background(), db, 3, func(tx pgx.Tx) error { return nil })

	require.NoError(t, err)
	require.Len(t, db.txs, 1)
	assert.True(t, db.txs[0].committed)
	assert.False(t, db.txs[0].rolledBack)
}

func TestRunInTx_RollbackOnError(t *testing.T) {
	db := &fakeBeginner{}
	boom := errors.New("boom")

	err := RunInTx(context.Background(), db, 3, func(tx pgx.Tx) error { return boom })

	assert.ErrorIs(t, err, boom)
	require.Len(t, db.txs, 1, "business errors must not be retried")
	assert.False(t, db.txs[0].committed)
	assert.True(t, db.txs[0].rolledBack)
}

func TestRunInTx_RollbackOnPanic(t *testing.T) {
	db := &fakeBeginner{}

	assert.Panics(t, func() {
		_ = RunInTx(context.Background(), db, 1, func(tx pgx.Tx) error { panic("unexpected") })
	})
	require.Len(t, db.txs, 1)
	assert.True(t, db.txs[0].rolledBack)
}

func TestRunInTx_RetriesSerializationFailure(t *testing.T) {
	db := &fakeBeginner{}
	calls := 0

	err := RunInTx(context.Background(), db, 5, func(tx pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: codeSerializationFailure}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, db.txs, 3)
	assert.True(t, db.txs[0].rolledBack)
	assert.True(t, db.txs[1].rolledBack)
	assert.True(t, db.txs[2].committed)
}

func TestRunInTx_GivesUpAfterMaxAttempts(t *testing.T) {
	db := &fakeBeginner{}

	err := RunInTx(context.Background(), db, 2, func(tx pgx.Tx) error {
		return &pgconn.PgError{Code: codeDeadlockDetected}
	})

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Len(t, db.txs, 2)
}

func TestRunInTx_BeginError(t *testing.T) {
	db := &fakeBeginner{beginErr: errors.New("db down")}

	err := RunInTx(context.Background(), db, 3, func(tx pgx.Tx) error { return nil })
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestQueryName(t *testing.T) {
	assert.Equal(t, "select", queryName("  SELECT 1"))
	assert.Equal(t, "insert", queryName("\n\t\tINSERT INTO users"))
	assert.Equal(t, "other", queryName("VACUUM"))
	assert.Equal(t, "unknown", queryName(""))
}
