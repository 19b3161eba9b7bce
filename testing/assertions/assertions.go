// Package assertions provides test assertions for hash-chained
// provenance data: chain linkage, event kinds and quantity
// conservation.
package assertions

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/cacaotrail/cacaotrail"
)

// TB is an alias for testing.TB to allow mocking in tests.
type TB = testing.TB

// AssertEventKinds checks that the events have the expected kinds in
// chain order.
func AssertEventKinds(t TB, events []cacaotrail.Event, kinds ...string) {
	t.Helper()

	if len(events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d", len(kinds), len(events))
	}

	for i, want := range kinds {
		if events[i].Kind != want {
			t.Errorf("Event %d: expected kind %s, got %s", i, want, events[i].Kind)
		}
	}
}

// AssertContainsKind checks that at least one event has the given kind.
func AssertContainsKind(t TB, events []cacaotrail.Event, kind string) {
	t.Helper()

	for _, ev := range events {
		if ev.Kind == kind {
			return
		}
	}
	t.Errorf("Events do not contain kind %s", kind)
}

// AssertPayload checks that an event's payload matches the expected
// value.
func AssertPayload[T any](t TB, event cacaotrail.Event, expected T) {
	t.Helper()

	actual, ok := event.Payload.(T)
	if !ok {
		t.Fatalf("Payload is not of expected type %T, got %T", expected, event.Payload)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Payload mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// AssertChainLinked checks that events form a well-linked hash chain:
// consecutive sequence numbers and each PrevHash equal to the previous
// record's Hash.
func AssertChainLinked(t TB, events []cacaotrail.Event) {
	t.Helper()

	prevHash := ""
	for i, ev := range events {
		wantSeq := int64(i + 1)
		if ev.Seq != wantSeq {
			t.Errorf("Event %d: expected seq %d, got %d", i, wantSeq, ev.Seq)
		}
		if ev.PrevHash != prevHash {
			t.Errorf("Event %d: prev hash %q does not link to %q", i, ev.PrevHash, prevHash)
		}
		if ev.Hash == "" {
			t.Errorf("Event %d: missing chain hash", i)
		}
		prevHash = ev.Hash
	}
}

// AssertChainIntact re-verifies a subject's chain against the ledger
// and fails if any link is broken.
func AssertChainIntact(t TB, journal *cacaotrail.Journal, subject cacaotrail.SubjectID) {
	t.Helper()

	if err := journal.VerifySubject(context.Background(), subject); err != nil {
		t.Fatalf("Chain %s is not intact: %v", subject, err)
	}
}

// AssertChainCorrupted expects verification of the subject to fail
// with a chain corruption error.
func AssertChainCorrupted(t TB, journal *cacaotrail.Journal, subject cacaotrail.SubjectID) {
	t.Helper()

	err := journal.VerifySubject(context.Background(), subject)
	if err == nil {
		t.Fatalf("Expected chain %s to be corrupted, but it verified clean", subject)
	}
	if !errors.Is(err, cacaotrail.ErrChainCorrupted) {
		t.Errorf("Expected chain corruption error, got %v", err)
	}
}

// AssertHalted checks that the coordinator refuses writes to the
// subject.
func AssertHalted(t TB, coord *cacaotrail.Coordinator, subjectID string) {
	t.Helper()

	halted := coord.HaltedSubjects()
	if _, ok := halted[subjectID]; !ok {
		t.Errorf("Expected subject %s to be halted, halted set: %v", subjectID, halted)
	}
}

// AssertConservation checks the batch quantity invariant: consumed
// equals the sum of its composition edges and never exceeds the
// harvested quantity.
func AssertConservation(t TB, store cacaotrail.MaterializedStore, batchID string) {
	t.Helper()

	ctx := context.Background()
	batch, err := store.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("Batch %s: %v", batchID, err)
	}

	edges, err := store.EdgesByBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("Edges of batch %s: %v", batchID, err)
	}

	var total float64
	for _, e := range edges {
		total += e.Quantity
	}

	if total != batch.Consumed {
		t.Errorf("Batch %s: edges sum to %.4f but consumed is %.4f", batchID, total, batch.Consumed)
	}
	if batch.Consumed > batch.Quantity {
		t.Errorf("Batch %s: consumed %.4f exceeds quantity %.4f", batchID, batch.Consumed, batch.Quantity)
	}
}

// AssertProjected checks that the materialized view has applied the
// subject's chain up to at least the given sequence.
func AssertProjected(t TB, store cacaotrail.MaterializedStore, subjectID string, seq int64) {
	t.Helper()

	applied, err := store.LastApplied(context.Background(), subjectID)
	if err != nil {
		t.Fatalf("LastApplied(%s): %v", subjectID, err)
	}
	if applied < seq {
		t.Errorf("Subject %s: projection at seq %d, want at least %d", subjectID, applied, seq)
	}
}
