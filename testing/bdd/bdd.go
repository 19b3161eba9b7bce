// Package bdd provides Given-When-Then test fixtures for provenance
// command handling. Given seeds the ledger through prior commands,
// When submits the command under test, and Then asserts on the
// resulting events or error.
package bdd

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/ledger/memory"
)

// TB is an alias for testing.TB to allow mocking in tests.
type TB = testing.TB

// TestFixture provides BDD-style testing for provenance commands.
type TestFixture struct {
	t             TB
	journal       *cacaotrail.Journal
	materialized  *cacaotrail.MemoryMaterializedStore
	coordinator   *cacaotrail.Coordinator
	givenCommands []cacaotrail.Command

	subject  cacaotrail.SubjectID
	baseSeq  int64
	ack      cacaotrail.Ack
	result   error
	executed bool
}

// Given sets up a fixture whose ledger is seeded by running the given
// commands. Seed failures fail the test immediately in When.
func Given(t TB, commands ...cacaotrail.Command) *TestFixture {
	t.Helper()

	journal := cacaotrail.New(memory.NewStore())
	materialized := cacaotrail.NewMemoryMaterializedStore()

	return &TestFixture{
		t:             t,
		journal:       journal,
		materialized:  materialized,
		coordinator:   cacaotrail.NewCoordinator(journal, materialized),
		givenCommands: commands,
	}
}

// Journal exposes the fixture's ledger for extra assertions.
func (f *TestFixture) Journal() *cacaotrail.Journal {
	return f.journal
}

// Materialized exposes the fixture's view for extra assertions.
func (f *TestFixture) Materialized() cacaotrail.MaterializedStore {
	return f.materialized
}

// When submits the command under test against the seeded ledger.
// subject names the chain whose new events Then will inspect.
func (f *TestFixture) When(subject cacaotrail.SubjectID, cmd cacaotrail.Command) *TestFixture {
	f.t.Helper()

	ctx := context.Background()
	for _, given := range f.givenCommands {
		if _, err := f.coordinator.Submit(ctx, given); err != nil {
			f.t.Fatalf("bdd: failed to seed with %s: %v", given.CommandName(), err)
		}
	}

	f.subject = subject
	if info, err := f.journal.SubjectInfo(ctx, subject); err == nil {
		f.baseSeq = info.Seq
	}

	f.ack, f.result = f.coordinator.Submit(ctx, cmd)
	f.executed = true

	return f
}

// Then asserts that the command appended exactly the expected payloads
// to the subject chain, in order.
func (f *TestFixture) Then(expectedPayloads ...interface{}) {
	f.t.Helper()
	f.requireExecuted("Then")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	// LoadFrom is exclusive of fromSeq, so baseSeq yields exactly the
	// events appended after When.
	events, err := f.journal.LoadFrom(context.Background(), f.subject, f.baseSeq)
	if err != nil {
		f.t.Fatalf("bdd: loading %s: %v", f.subject, err)
	}

	if len(events) != len(expectedPayloads) {
		f.t.Fatalf("Expected %d new events on %s, got %d.\nExpected: %+v\nActual: %+v",
			len(expectedPayloads), f.subject, len(events), expectedPayloads, events)
	}

	for i, expected := range expectedPayloads {
		if !reflect.DeepEqual(events[i].Payload, expected) {
			f.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v",
				i, expected, events[i].Payload)
		}
	}
}

// ThenAck asserts success and returns the Ack for further checks.
func (f *TestFixture) ThenAck() cacaotrail.Ack {
	f.t.Helper()
	f.requireExecuted("ThenAck")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}
	return f.ack
}

// ThenError asserts that the command failed with the expected error.
func (f *TestFixture) ThenError(expectedErr error) {
	f.t.Helper()
	f.requireExecuted("ThenError")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.result, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, f.result)
	}
}

// ThenErrorContains asserts that the error message contains a
// substring.
func (f *TestFixture) ThenErrorContains(substring string) {
	f.t.Helper()
	f.requireExecuted("ThenErrorContains")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenNoEvents asserts that the command appended nothing to the
// subject chain.
func (f *TestFixture) ThenNoEvents() {
	f.t.Helper()
	f.requireExecuted("ThenNoEvents")

	events, err := f.journal.LoadFrom(context.Background(), f.subject, f.baseSeq)
	if err != nil && !errors.Is(err, cacaotrail.ErrSubjectNotFound) {
		f.t.Fatalf("bdd: loading %s: %v", f.subject, err)
	}

	if len(events) > 0 {
		f.t.Errorf("Expected no new events on %s, got %d: %+v", f.subject, len(events), events)
	}
}

// Close releases the fixture's coordinator.
func (f *TestFixture) Close() error {
	return f.coordinator.Close()
}

func (f *TestFixture) requireExecuted(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s() must be called after When() - no command was executed", step)
	}
}
