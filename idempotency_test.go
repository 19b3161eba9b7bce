package cacaotrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail/ledger/memory"
)

// keyedHarvest carries an explicit idempotency key, the way a field
// app would stamp each upload.
type keyedHarvest struct {
	RecordHarvest
	Key string
}

func (c keyedHarvest) IdempotencyKey() string { return c.Key }

func TestIdempotencyKeys(t *testing.T) {
	t.Run("content-derived keys are deterministic", func(t *testing.T) {
		a := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}
		b := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}
		c := RegisterSupplier{SupplierID: "s2", Name: "Finca Dos"}

		assert.Equal(t, GenerateIdempotencyKey(a), GenerateIdempotencyKey(b))
		assert.NotEqual(t, GenerateIdempotencyKey(a), GenerateIdempotencyKey(c))
		assert.Contains(t, GenerateIdempotencyKey(a), "RegisterSupplier:")
	})

	t.Run("explicit key wins", func(t *testing.T) {
		cmd := keyedHarvest{Key: "upload-7"}
		assert.Equal(t, "upload-7", IdempotencyKeyOf(cmd))
	})

	t.Run("empty explicit key falls back to content", func(t *testing.T) {
		cmd := keyedHarvest{}
		assert.NotEmpty(t, IdempotencyKeyOf(cmd))
		assert.NotEqual(t, "", IdempotencyKeyOf(cmd))
	})
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	t.Run("missing key", func(t *testing.T) {
		record, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("store and retrieve", func(t *testing.T) {
		record := &IdempotencyRecord{
			Key:         "k1",
			CommandName: "RecordHarvest",
			Ack:         Ack{SubjectID: "Batch-b1", Seq: 1},
			Success:     true,
			ProcessedAt: time.Now(),
			ExpiresAt:   time.Now().Add(time.Hour),
		}
		require.NoError(t, store.Store(ctx, record))

		got, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Batch-b1", got.Ack.SubjectID)
		assert.False(t, got.IsExpired())
	})

	t.Run("cleanup removes expired records", func(t *testing.T) {
		expired := &IdempotencyRecord{
			Key:       "k2",
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, store.Store(ctx, expired))
		require.NoError(t, store.Cleanup(ctx))

		got, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Nil(t, got)

		// Live records survive cleanup.
		got, err = store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestIdempotencyMiddleware(t *testing.T) {
	ctx := context.Background()
	cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}

	t.Run("replay returns the cached ack", func(t *testing.T) {
		store := NewMemoryIdempotencyStore()
		mw := IdempotencyMiddleware(IdempotencyConfig{Store: store})

		calls := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			calls++
			return Ack{SubjectID: "Supplier-s1", Seq: 1, Hash: "abc"}, nil
		}

		first, err := mw(next)(ctx, cmd)
		require.NoError(t, err)

		second, err := mw(next)(ctx, cmd)
		require.NoError(t, err)

		assert.Equal(t, 1, calls, "handler runs once")
		assert.Equal(t, first, second)
	})

	t.Run("failures are retried by default", func(t *testing.T) {
		store := NewMemoryIdempotencyStore()
		mw := IdempotencyMiddleware(IdempotencyConfig{Store: store})

		calls := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			calls++
			if calls == 1 {
				return Ack{}, errors.New("transient")
			}
			return Ack{Seq: 1}, nil
		}

		_, err := mw(next)(ctx, cmd)
		require.Error(t, err)

		ack, err := mw(next)(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, int64(1), ack.Seq)
	})

	t.Run("StoreErrors replays the failure", func(t *testing.T) {
		store := NewMemoryIdempotencyStore()
		mw := IdempotencyMiddleware(IdempotencyConfig{Store: store, StoreErrors: true})

		calls := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			calls++
			return Ack{}, errors.New("permanent")
		}

		_, err := mw(next)(ctx, cmd)
		require.Error(t, err)

		_, err = mw(next)(ctx, cmd)
		require.Error(t, err)
		assert.Equal(t, 1, calls, "handler runs once")
		assert.True(t, errors.Is(err, ErrAlreadyProcessed))

		var replay *IdempotencyReplayError
		require.True(t, errors.As(err, &replay))
		assert.Contains(t, replay.Message, "permanent")
	})

	t.Run("expired records do not suppress", func(t *testing.T) {
		store := NewMemoryIdempotencyStore()
		mw := IdempotencyMiddleware(IdempotencyConfig{Store: store, TTL: time.Nanosecond})

		calls := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			calls++
			return Ack{Seq: int64(calls)}, nil
		}

		_, err := mw(next)(ctx, cmd)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)

		ack, err := mw(next)(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, int64(2), ack.Seq)
	})

	t.Run("custom key generator", func(t *testing.T) {
		store := NewMemoryIdempotencyStore()
		mw := IdempotencyMiddleware(IdempotencyConfig{
			Store:        store,
			KeyGenerator: func(cmd Command) string { return "fixed" },
		})

		calls := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			calls++
			return Ack{Seq: 1}, nil
		}

		_, err := mw(next)(ctx, cmd)
		require.NoError(t, err)
		// A different command still dedupes under the fixed key.
		_, err = mw(next)(ctx, RegisterSupplier{SupplierID: "s2", Name: "Finca Dos"})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestIdempotencyWithCoordinator(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryIdempotencyStore()
	journal := New(memory.NewStore())
	materialized := NewMemoryMaterializedStore()
	coordinator := NewCoordinator(journal, materialized,
		WithCoordinatorMiddleware(IdempotencyMiddleware(IdempotencyConfig{Store: store})))
	defer coordinator.Close()

	cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}

	first, err := coordinator.Submit(ctx, cmd)
	require.NoError(t, err)

	// The duplicate would hit ErrAlreadyExists without deduplication;
	// instead the original ack comes back.
	second, err := coordinator.Submit(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := journal.SubjectInfo(ctx, SupplierSubject("s1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Seq)
}
