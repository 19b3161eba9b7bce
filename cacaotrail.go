// Package cacaotrail provides a tamper-evident provenance ledger for
// cacao supply chains.
//
// The ledger is an append-only, hash-chained event log. Every traceable
// thing (a cacao batch, a product, a manufacturer, a supplier) is a
// subject with its own chain; each record commits to its predecessor
// via SHA-256, so any rewrite of history is detectable. A materialized
// relational view is projected from the log and can always be rebuilt
// by replay.
//
// # Quick Start
//
// Create a journal with the in-memory backend for development:
//
//	import (
//	    "github.com/cacaotrail/cacaotrail"
//	    "github.com/cacaotrail/cacaotrail/ledger/memory"
//	)
//
//	journal := cacaotrail.New(memory.NewStore())
//
// For production, use the PostgreSQL backend:
//
//	import (
//	    "github.com/cacaotrail/cacaotrail"
//	    "github.com/cacaotrail/cacaotrail/ledger/postgres"
//	)
//
//	store, err := postgres.NewStore(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	journal := cacaotrail.New(store)
//
// # Recording Provenance
//
// Writes go through the Coordinator, which validates commands, appends
// to the log, and projects into the materialized store:
//
//	mat := cacaotrail.NewMemoryMaterializedStore()
//	coord := cacaotrail.NewCoordinator(journal, mat)
//
//	ack, err := coord.Submit(ctx, cacaotrail.RecordHarvest{
//	    BatchID:     "2024-ghana-17",
//	    SupplierID:  "sup-1",
//	    Quantity:    100,
//	    Unit:        "kg",
//	    HarvestDate: time.Now(),
//	})
//
//	ack, err = coord.Submit(ctx, cacaotrail.ComposeProduct{
//	    ProductID: "choc-70",
//	    BatchID:   "2024-ghana-17",
//	    Quantity:  60,
//	    Name:      "70% Dark",
//	})
//
// A composition that would overdraw the batch fails with
// ErrConsumptionExceeded; concurrent appends to the same chain surface
// as ErrChainConflict, never as silent reordering.
//
// # Tracing
//
// The Resolver answers both directions of the provenance question:
//
//	resolver := cacaotrail.NewResolver(journal, mat)
//	batches, err := resolver.TraceBackward(ctx, "choc-70") // product -> batches
//	products, err := resolver.TraceForward(ctx, "2024-ghana-17") // batch -> products
//	history, err := resolver.History(ctx, cacaotrail.ProductSubject("choc-70"))
//
// # Verification
//
// The Verifier recomputes hash chains and diffs the materialized store
// against a scratch replay:
//
//	verifier := cacaotrail.NewVerifier(journal, mat)
//	report, err := verifier.Verify(ctx)
//	err = verifier.VerifySubject(ctx, cacaotrail.BatchSubject("2024-ghana-17"))
//
// A broken chain is fatal for the subject (writes halt); projection
// drift is recoverable by rebuild.
package cacaotrail

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}

// BuildSubjectID creates a subject ID string from a kind and an ID.
// This follows the convention: "{Kind}-{ID}"
func BuildSubjectID(kind, id string) string {
	return kind + "-" + id
}
