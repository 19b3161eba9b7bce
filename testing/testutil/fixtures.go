package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/ledger/memory"
)

// Trail bundles an in-memory ledger, view and coordinator for tests
// that need a working provenance pipeline without a database.
type Trail struct {
	Journal      *cacaotrail.Journal
	Materialized *cacaotrail.MemoryMaterializedStore
	Coordinator  *cacaotrail.Coordinator
}

// NewTrail creates an empty in-memory trail. The coordinator is closed
// automatically when the test finishes.
func NewTrail(t *testing.T) *Trail {
	t.Helper()

	journal := cacaotrail.New(memory.NewStore())
	materialized := cacaotrail.NewMemoryMaterializedStore()
	coord := cacaotrail.NewCoordinator(journal, materialized)
	t.Cleanup(func() { _ = coord.Close() })

	return &Trail{
		Journal:      journal,
		Materialized: materialized,
		Coordinator:  coord,
	}
}

// Submit runs a command and fails the test on error.
func (tr *Trail) Submit(t *testing.T, cmd cacaotrail.Command) cacaotrail.Ack {
	t.Helper()

	ack, err := tr.Coordinator.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("submit %s: %v", cmd.CommandName(), err)
	}
	return ack
}

// Sample IDs used by SeedSampleTrail.
const (
	SampleSupplierID     = "finca-esperanza"
	SampleManufacturerID = "choco-works"
	SampleBatchID        = "2024-ghana-17"
	SampleProductID      = "choc-001"
)

// SeedSampleTrail populates the trail with a minimal end-to-end
// provenance chain: a supplier, a manufacturer, one harvested and
// quality-checked batch, and one product composed from it.
func SeedSampleTrail(t *testing.T, tr *Trail) {
	t.Helper()

	tr.Submit(t, cacaotrail.RegisterSupplier{
		SupplierID: SampleSupplierID,
		Name:       "Finca Esperanza",
		Region:     "Ashanti",
		Contact:    "contact@esperanza.example",
	})

	tr.Submit(t, cacaotrail.RegisterManufacturer{
		ManufacturerID: SampleManufacturerID,
		Name:           "Choco Works",
		Location:       "Hamburg",
	})

	tr.Submit(t, cacaotrail.RecordHarvest{
		BatchID:       SampleBatchID,
		SupplierID:    SampleSupplierID,
		Quantity:      500,
		Unit:          "kg",
		HarvestDate:   time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC),
		Origin:        "Ashanti, Ghana",
		Certification: "organic",
	})

	tr.Submit(t, cacaotrail.QualityCheck{
		Subject:   cacaotrail.BatchSubject(SampleBatchID),
		Grade:     "AA",
		Inspector: "k.mensah",
		CheckedAt: time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC),
	})

	tr.Submit(t, cacaotrail.ComposeProduct{
		ProductID:      SampleProductID,
		BatchID:        SampleBatchID,
		Quantity:       120,
		Name:           "Dark 70%",
		ManufacturerID: SampleManufacturerID,
		BatchNumber:    "DW-2024-11",
	})
}
