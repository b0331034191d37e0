package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/event"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

func testKey() ledger.Key {
	return ledger.Key{ProductID: id.New(), LocationID: id.New()}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := New(0)
	repo := db.Ledger()
	key := testKey()
	boom := errors.New("boom")

	err := db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		rec, err := repo.GetForUpdate(ctx, key, true)
		require.NoError(t, err)
		rec.OnHand = 10
		require.NoError(t, repo.Upsert(ctx, rec))
		require.NoError(t, db.Events().Publish(ctx, event.Event{EventType: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Get(context.Background(), key)
	assert.True(t, apperror.IsNotFound(err))
	assert.Empty(t, db.Events().Published(""))
}

func TestCommitPublishesWrites(t *testing.T) {
	db := New(0)
	repo := db.Ledger()
	key := testKey()

	err := db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		rec, err := repo.GetForUpdate(ctx, key, true)
		if err != nil {
			return err
		}
		rec.OnHand = 7
		return repo.Upsert(ctx, rec)
	})
	require.NoError(t, err)

	rec, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.OnHand)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	db := New(0)
	repo := db.Ledger()
	key := testKey()

	err := db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		if err := db.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := repo.GetForUpdate(ctx, key, true)
			return err
		}); err != nil {
			return err
		}
		// The inner call did not release the lock or commit.
		assert.True(t, db.txFrom(ctx).holds(stockLock(key)))
		_, err := repo.Get(context.Background(), key)
		assert.True(t, apperror.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func TestLockTimeoutIsContention(t *testing.T) {
	db := New(50 * time.Millisecond)
	repo := db.Ledger()
	key := testKey()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = db.RunInTransaction(context.Background(), func(ctx context.Context) error {
			_, err := repo.GetForUpdate(ctx, key, true)
			close(held)
			<-done
			return err
		})
	}()
	<-held
	defer close(done)

	err := db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		_, err := repo.GetForUpdate(ctx, key, true)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperror.IsContention(err))
	assert.True(t, apperror.IsRetryable(err))
}

func TestWritesOutsideTransactionFail(t *testing.T) {
	db := New(0)
	_, err := db.Ledger().GetForUpdate(context.Background(), testKey(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoTx)
}

func TestFailAppendAbortsAppend(t *testing.T) {
	db := New(0)
	injected := errors.New("disk full")
	db.FailAppend = func(ledger.Movement) error { return injected }

	err := db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return db.Ledger().AppendMovement(ctx, &ledger.Movement{ID: id.New()})
	})
	require.ErrorIs(t, err, injected)
	movements, err := db.Ledger().ListMovements(context.Background(), ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movements)
}
