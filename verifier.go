package cacaotrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Verifier audits the ledger and the materialized view. A full run
// recomputes every subject chain, compares chain tails against the
// recorded checkpoints, and replays the whole log into a scratch view
// to detect drift in the live projection.
type Verifier struct {
	journal      *Journal
	materialized MaterializedStore
	logger       Logger
	pageSize     int
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

// WithVerifierPageSize sets how many records a scan loads per page.
func WithVerifierPageSize(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// NewVerifier creates a verifier over the journal and the live
// materialized store.
func NewVerifier(journal *Journal, materialized MaterializedStore, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		journal:      journal,
		materialized: materialized,
		logger:       NoopLogger(),
		pageSize:     500,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Report is the outcome of a verification run.
type Report struct {
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	RecordsScanned  int       `json:"recordsScanned"`
	SubjectsChecked int       `json:"subjectsChecked"`

	// ChainErrors are broken or tampered subject chains.
	ChainErrors []*ChainCorruptedError `json:"chainErrors,omitempty"`

	// CheckpointErrors are subjects whose chain tail no longer matches
	// the checkpoint recorded at append time.
	CheckpointErrors []error `json:"checkpointErrors,omitempty"`

	// DriftErrors are fields where the live materialized view disagrees
	// with a clean replay of the log.
	DriftErrors []*ProjectionDriftError `json:"driftErrors,omitempty"`
}

// OK reports whether the run found no problems.
func (r *Report) OK() bool {
	return len(r.ChainErrors) == 0 && len(r.CheckpointErrors) == 0 && len(r.DriftErrors) == 0
}

// Err returns an error summarizing the report, or nil when clean.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("cacaotrail: verification found %d chain, %d checkpoint, %d drift problems",
		len(r.ChainErrors), len(r.CheckpointErrors), len(r.DriftErrors))
}

// Verify runs a full audit and returns the report. The report itself
// is returned even when problems are found; the error is reserved for
// failures of the verification process.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	chains := make(map[string][]ledger.Record)
	order := make([]string, 0)

	var pos uint64
	for {
		records, err := v.journal.LoadFromPosition(ctx, pos, v.pageSize)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if _, ok := chains[rec.SubjectID]; !ok {
				order = append(order, rec.SubjectID)
			}
			chains[rec.SubjectID] = append(chains[rec.SubjectID], rec)
			report.RecordsScanned++
		}
		pos = records[len(records)-1].GlobalPosition
	}

	cps, hasCheckpoints := v.journal.Store().(ledger.ChainCheckpointStore)

	for _, subjectID := range order {
		records := chains[subjectID]
		report.SubjectsChecked++

		if err := ledger.VerifyChain(subjectID, records); err != nil {
			var corruption *ChainCorruptedError
			if errors.As(err, &corruption) {
				report.ChainErrors = append(report.ChainErrors, corruption)
				v.logger.Error("chain verification failed",
					"subject", subjectID, "error", err)
				continue
			}
			return nil, err
		}

		if hasCheckpoints {
			if err := v.checkTail(ctx, cps, subjectID, records); err != nil {
				report.CheckpointErrors = append(report.CheckpointErrors, err)
				v.logger.Error("checkpoint mismatch", "subject", subjectID, "error", err)
			}
		}
	}

	drift, err := v.detectDrift(ctx, report)
	if err != nil {
		return nil, err
	}
	report.DriftErrors = drift

	report.FinishedAt = time.Now()
	return report, nil
}

// VerifySubject recomputes a single subject chain.
func (v *Verifier) VerifySubject(ctx context.Context, subject SubjectID) error {
	return v.journal.VerifySubject(ctx, subject)
}

// checkTail compares a verified chain tail against the checkpoint
// recorded at append time. A tail behind the checkpoint means records
// were deleted from the log; a hash mismatch at the checkpointed seq
// means history was rewritten.
func (v *Verifier) checkTail(ctx context.Context, cps ledger.ChainCheckpointStore, subjectID string, records []ledger.Record) error {
	cp, err := cps.GetChainCheckpoint(ctx, subjectID)
	if err != nil || cp == nil {
		return err
	}

	tail := records[len(records)-1]
	if tail.Seq < cp.Seq {
		return fmt.Errorf("cacaotrail: subject %s tail seq %d behind checkpoint seq %d: %w",
			subjectID, tail.Seq, cp.Seq, ErrChainCorrupted)
	}
	for _, rec := range records {
		if rec.Seq == cp.Seq && rec.Hash != cp.Hash {
			return fmt.Errorf("cacaotrail: subject %s hash at seq %d diverges from checkpoint: %w",
				subjectID, cp.Seq, ErrChainCorrupted)
		}
	}
	return nil
}

// detectDrift replays the log into a scratch store and compares it
// field by field against the live materialized view. Subjects whose
// chains failed verification are excluded from the replay: their
// payloads cannot be trusted, and the chain error already covers them.
// A record that still fails to replay is reported as drift for its
// subject, never as a failure of the audit itself.
func (v *Verifier) detectDrift(ctx context.Context, report *Report) ([]*ProjectionDriftError, error) {
	var drift []*ProjectionDriftError

	add := func(subjectID, field string, want, got interface{}) {
		drift = append(drift, &ProjectionDriftError{
			SubjectID: subjectID,
			Field:     field,
			Want:      fmt.Sprint(want),
			Got:       fmt.Sprint(got),
		})
	}

	skip := make(map[string]bool, len(report.ChainErrors))
	for _, corruption := range report.ChainErrors {
		skip[corruption.SubjectID] = true
	}

	scratch := NewMemoryMaterializedStore()
	projector := NewProjector(scratch, WithProjectorSerializer(v.journal.Serializer()))

	var pos uint64
	for {
		records, err := v.journal.LoadFromPosition(ctx, pos, v.pageSize)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if skip[rec.SubjectID] {
				continue
			}
			if err := projector.Apply(ctx, rec); err != nil {
				add(rec.SubjectID, "replay", "clean replay", err.Error())
				skip[rec.SubjectID] = true
			}
		}
		pos = records[len(records)-1].GlobalPosition
	}

	batches, err := scratch.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, want := range batches {
		subjectID := BatchSubject(want.ID).String()
		got, err := v.materialized.GetBatch(ctx, want.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				add(subjectID, "batch", "present", "missing")
				continue
			}
			return nil, err
		}
		if got.Quantity != want.Quantity {
			add(subjectID, "quantity", want.Quantity, got.Quantity)
		}
		if got.Consumed != want.Consumed {
			add(subjectID, "consumed", want.Consumed, got.Consumed)
		}
		if got.Grade != want.Grade {
			add(subjectID, "grade", want.Grade, got.Grade)
		}
		if got.Owner != want.Owner {
			add(subjectID, "owner", want.Owner, got.Owner)
		}
	}

	products, err := scratch.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, want := range products {
		subjectID := ProductSubject(want.ID).String()
		got, err := v.materialized.GetProduct(ctx, want.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				add(subjectID, "product", "present", "missing")
				continue
			}
			return nil, err
		}
		if got.Status != want.Status {
			add(subjectID, "status", want.Status, got.Status)
		}
		if got.Owner != want.Owner {
			add(subjectID, "owner", want.Owner, got.Owner)
		}
		wantEdges, err := scratch.EdgesByProduct(ctx, want.ID)
		if err != nil {
			return nil, err
		}
		gotEdges, err := v.materialized.EdgesByProduct(ctx, want.ID)
		if err != nil {
			return nil, err
		}
		if len(gotEdges) != len(wantEdges) {
			add(subjectID, "compositionEdges", len(wantEdges), len(gotEdges))
		}
	}

	return drift, nil
}

// Run verifies on a fixed interval until the context is done. Each
// report is handed to the callback; a nil callback just logs failures.
func (v *Verifier) Run(ctx context.Context, interval time.Duration, fn func(*Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := v.Verify(ctx)
			if err != nil {
				v.logger.Error("verification run failed", "error", err)
				continue
			}
			if !report.OK() {
				v.logger.Error("verification found problems", "error", report.Err())
			}
			if fn != nil {
				fn(report)
			}
		}
	}
}
