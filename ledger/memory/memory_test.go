package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(kind string, payload string) ledger.EventDraft {
	return ledger.EventDraft{Kind: kind, Payload: []byte(payload)}
}

func TestMemoryStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("appends to new subject", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		records, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Harvested", `{"quantity":100}`),
		}, NoSubject)

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(1), records[0].Seq)
		assert.Equal(t, "Batch-b1", records[0].SubjectID)
		assert.Equal(t, "Harvested", records[0].Kind)
		assert.Empty(t, records[0].PrevHash)
		assert.NotEmpty(t, records[0].Hash)
		assert.Equal(t, uint64(1), records[0].GlobalPosition)
	})

	t.Run("links hashes across appends", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		first, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Harvested", `{"quantity":100}`),
		}, NoSubject)
		require.NoError(t, err)

		second, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("QualityChecked", `{"grade":"A"}`),
		}, 1)
		require.NoError(t, err)

		assert.Equal(t, first[0].Hash, second[0].PrevHash)
		assert.Equal(t, int64(2), second[0].Seq)
	})

	t.Run("rejects wrong expected seq", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Harvested", `{}`),
		}, NoSubject)
		require.NoError(t, err)

		_, err = store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Shipped", `{}`),
		}, 5)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ledger.ErrChainConflict))

		var conflict *ledger.ChainConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(5), conflict.ExpectedSeq)
		assert.Equal(t, int64(1), conflict.ActualSeq)
	})

	t.Run("NoSubject rejects existing subject", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
		require.NoError(t, err)

		_, err = store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
		assert.True(t, errors.Is(err, ledger.ErrChainConflict))
	})

	t.Run("SubjectExists rejects missing subject", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-missing", []ledger.EventDraft{draft("Shipped", `{}`)}, SubjectExists)
		assert.True(t, errors.Is(err, ledger.ErrSubjectNotFound))
	})

	t.Run("AnySeq always appends", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		for i := 0; i < 3; i++ {
			_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, AnySeq)
			require.NoError(t, err)
		}

		info, err := store.GetSubjectInfo(ctx, "Batch-b1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Seq)
	})

	t.Run("rejects empty subject id", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
		assert.ErrorIs(t, err, ledger.ErrEmptySubjectID)
	})

	t.Run("rejects empty event slice", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-b1", nil, NoSubject)
		assert.ErrorIs(t, err, ledger.ErrNoEvents)
	})
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	_, err := store.Append(ctx, "Product-p1", []ledger.EventDraft{draft("Processed", `{}`)}, NoSubject)
	require.NoError(t, err)

	// Two writers race with the same expected seq: exactly one wins.
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = store.Append(ctx, "Product-p1", []ledger.EventDraft{
				draft("Shipped", fmt.Sprintf(`{"writer":%d}`, n)),
			}, 1)
		}(i)
	}
	wg.Wait()

	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ledger.ErrChainConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, won)
	assert.Equal(t, writers-1, conflicted)

	info, err := store.GetSubjectInfo(ctx, "Product-p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Seq)
}

func TestMemoryStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("loads all records in order", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Harvested", `{"seq":1}`),
			draft("QualityChecked", `{"seq":2}`),
			draft("Shipped", `{"seq":3}`),
		}, NoSubject)
		require.NoError(t, err)

		records, err := store.Load(ctx, "Batch-b1", 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, rec := range records {
			assert.Equal(t, int64(i+1), rec.Seq)
		}
	})

	t.Run("loads from seq", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
			draft("Harvested", `{}`),
			draft("QualityChecked", `{}`),
			draft("Shipped", `{}`),
		}, NoSubject)
		require.NoError(t, err)

		records, err := store.Load(ctx, "Batch-b1", 1)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(2), records[0].Seq)
	})

	t.Run("unknown subject returns empty slice", func(t *testing.T) {
		store := NewStore()
		defer store.Close()

		records, err := store.Load(ctx, "Batch-unknown", 0)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestMemoryStore_LoadFromPosition(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
	require.NoError(t, err)
	_, err = store.Append(ctx, "Product-p1", []ledger.EventDraft{draft("Processed", `{}`)}, NoSubject)
	require.NoError(t, err)
	_, err = store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Shipped", `{}`)}, 1)
	require.NoError(t, err)

	records, err := store.LoadFromPosition(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Total order across subjects.
	assert.Equal(t, uint64(1), records[0].GlobalPosition)
	assert.Equal(t, "Batch-b1", records[0].SubjectID)
	assert.Equal(t, "Product-p1", records[1].SubjectID)
	assert.Equal(t, "Batch-b1", records[2].SubjectID)

	records, err = store.LoadFromPosition(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].GlobalPosition)
}

func TestMemoryStore_GetSubjectInfo(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	records, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
		draft("Harvested", `{}`),
		draft("Shipped", `{}`),
	}, NoSubject)
	require.NoError(t, err)

	info, err := store.GetSubjectInfo(ctx, "Batch-b1")
	require.NoError(t, err)
	assert.Equal(t, "Batch-b1", info.SubjectID)
	assert.Equal(t, "Batch", info.Kind)
	assert.Equal(t, int64(2), info.Seq)
	assert.Equal(t, int64(2), info.EventCount)
	assert.Equal(t, records[1].Hash, info.TailHash)

	_, err = store.GetSubjectInfo(ctx, "Batch-missing")
	assert.True(t, errors.Is(err, ledger.ErrSubjectNotFound))
}

func TestMemoryStore_ChainVerification(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{
		draft("Harvested", `{"quantity":100}`),
		draft("QualityChecked", `{"grade":"A"}`),
		draft("Shipped", `{"to":"warehouse"}`),
	}, NoSubject)
	require.NoError(t, err)

	records, err := store.Load(ctx, "Batch-b1", 0)
	require.NoError(t, err)
	require.NoError(t, ledger.VerifyChain("Batch-b1", records))

	// Tamper with the middle payload and verify detection.
	require.True(t, store.TamperPayload("Batch-b1", 2, []byte(`{"grade":"C"}`)))

	records, err = store.Load(ctx, "Batch-b1", 0)
	require.NoError(t, err)
	err = ledger.VerifyChain("Batch-b1", records)
	require.Error(t, err)

	var corruption *ledger.ChainCorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, int64(2), corruption.Seq)
}

func TestMemoryStore_SubscribeAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	defer store.Close()

	_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
	require.NoError(t, err)

	ch, err := store.SubscribeAll(ctx, 0)
	require.NoError(t, err)

	// History is replayed first.
	select {
	case rec := <-ch:
		assert.Equal(t, uint64(1), rec.GlobalPosition)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed record")
	}

	// Live records follow.
	_, err = store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Shipped", `{}`)}, 1)
	require.NoError(t, err)

	select {
	case rec := <-ch:
		assert.Equal(t, uint64(2), rec.GlobalPosition)
		assert.Equal(t, "Shipped", rec.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live record")
	}
}

func TestMemoryStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	pos, err := store.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos)

	require.NoError(t, store.SetCheckpoint(ctx, "projector", 42))

	pos, err = store.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pos)
}

func TestMemoryStore_ChainCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	defer store.Close()

	cp, err := store.GetChainCheckpoint(ctx, "Batch-b1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, store.SetChainCheckpoint(ctx, &ledger.ChainCheckpoint{
		SubjectID: "Batch-b1",
		Seq:       3,
		Hash:      "abc",
		UpdatedAt: time.Now(),
	}))

	cp, err = store.GetChainCheckpoint(ctx, "Batch-b1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(3), cp.Seq)
	assert.Equal(t, "abc", cp.Hash)
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	_, err := store.Append(ctx, "Batch-b1", []ledger.EventDraft{draft("Harvested", `{}`)}, NoSubject)
	assert.ErrorIs(t, err, ledger.ErrStoreClosed)

	_, err = store.Load(ctx, "Batch-b1", 0)
	assert.ErrorIs(t, err, ledger.ErrStoreClosed)

	assert.ErrorIs(t, store.Ping(ctx), ledger.ErrStoreClosed)
}
