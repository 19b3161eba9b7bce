package cacaotrail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail/ledger"
	"github.com/cacaotrail/cacaotrail/ledger/memory"
)

// testTrail bundles a memory-backed journal, materialized store and
// coordinator for write-path tests.
type testTrail struct {
	store        *memory.MemoryStore
	journal      *Journal
	materialized *MemoryMaterializedStore
	coordinator  *Coordinator
}

func newTestTrail(t *testing.T) *testTrail {
	t.Helper()

	store := memory.NewStore()
	journal := New(store)
	materialized := NewMemoryMaterializedStore()
	coordinator := NewCoordinator(journal, materialized)
	t.Cleanup(func() {
		_ = coordinator.Close()
	})

	return &testTrail{
		store:        store,
		journal:      journal,
		materialized: materialized,
		coordinator:  coordinator,
	}
}

func (tr *testTrail) submit(t *testing.T, cmd Command) Ack {
	t.Helper()
	ack, err := tr.coordinator.Submit(context.Background(), cmd)
	require.NoError(t, err, "submitting %s", cmd.CommandName())
	return ack
}

func (tr *testTrail) registerSupplier(t *testing.T, id string) {
	t.Helper()
	tr.submit(t, RegisterSupplier{
		SupplierID: id,
		Name:       "Finca " + id,
		Region:     "Ashanti",
	})
}

func (tr *testTrail) registerManufacturer(t *testing.T, id string) {
	t.Helper()
	tr.submit(t, RegisterManufacturer{
		ManufacturerID: id,
		Name:           "Works " + id,
		Location:       "Hamburg",
	})
}

func (tr *testTrail) recordHarvest(t *testing.T, batchID, supplierID string, quantity float64) {
	t.Helper()
	tr.submit(t, RecordHarvest{
		BatchID:     batchID,
		SupplierID:  supplierID,
		Quantity:    quantity,
		Unit:        "kg",
		HarvestDate: time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC),
		Origin:      "Ashanti, Ghana",
	})
}

// corruptingStore wraps a memory store and fails appends for one
// subject with a chain corruption error, simulating a backend that
// detects tampering at write time.
type corruptingStore struct {
	*memory.MemoryStore
	corruptSubject string
}

func (s *corruptingStore) Append(ctx context.Context, subjectID string, events []ledger.EventDraft, expectedSeq int64) ([]ledger.Record, error) {
	if subjectID == s.corruptSubject {
		return nil, &ledger.ChainCorruptionError{
			SubjectID: subjectID,
			Seq:       1,
			Reason:    "hash mismatch",
		}
	}
	return s.MemoryStore.Append(ctx, subjectID, events, expectedSeq)
}
