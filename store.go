package cacaotrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Journal is the main entry point for ledger operations. It wraps a
// storage backend with payload serialization and chain verification.
type Journal struct {
	store      ledger.Store
	serializer Serializer
	logger     Logger
}

// Logger defines the logging interface used across the library.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NoopLogger returns a logger that discards everything.
func NoopLogger() Logger {
	return &noopLogger{}
}

// Option configures a Journal.
type Option func(*Journal)

// WithSerializer sets a custom payload serializer.
func WithSerializer(s Serializer) Option {
	return func(j *Journal) {
		j.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// New creates a new Journal with the given store and options.
func New(store ledger.Store, opts ...Option) *Journal {
	j := &Journal{
		store:      store,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Serializer returns the journal's payload serializer.
func (j *Journal) Serializer() Serializer {
	return j.serializer
}

// Store returns the underlying ledger store.
func (j *Journal) Store() ledger.Store {
	return j.store
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	metadata     Metadata
	expectedSeq  int64
	expectedHash string
	checkHash    bool
}

// ExpectSeq sets the expected chain tail sequence for optimistic
// concurrency.
func ExpectSeq(seq int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedSeq = seq
	}
}

// ExpectTailHash requires the subject's current tail hash to equal h.
// Use "" for a chain that must not exist yet. The check resolves to an
// exact-seq append, so a racing writer still surfaces as ChainConflict.
func ExpectTailHash(h string) AppendOption {
	return func(c *appendConfig) {
		c.expectedHash = h
		c.checkHash = true
	}
}

// WithAppendMetadata sets metadata for all events in the append operation.
func WithAppendMetadata(m Metadata) AppendOption {
	return func(c *appendConfig) {
		c.metadata = m
	}
}

// Append serializes payloads and stores them at the tail of the
// subject's chain. Returns the committed records, including their
// chain hashes and global positions.
func (j *Journal) Append(ctx context.Context, subject SubjectID, payloads []interface{}, opts ...AppendOption) ([]ledger.Record, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}

	if len(payloads) == 0 {
		return nil, ErrNoEvents
	}

	config := &appendConfig{
		expectedSeq: AnySeq,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.checkHash {
		seq, err := j.resolveTailHash(ctx, subject.String(), config.expectedHash)
		if err != nil {
			return nil, err
		}
		config.expectedSeq = seq
	}

	drafts := make([]ledger.EventDraft, len(payloads))
	for i, payload := range payloads {
		kind := EventKindOf(payload)
		if kind == "" {
			return nil, NewSerializationError("", "serialize", fmt.Errorf("cannot determine event kind"))
		}

		data, err := j.serializer.Serialize(payload)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail: failed to serialize event %d: %w", i, err)
		}

		drafts[i] = ledger.EventDraft{
			Kind:     kind,
			Payload:  data,
			Metadata: config.metadata,
		}
	}

	records, err := j.store.Append(ctx, subject.String(), drafts, config.expectedSeq)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("appended events",
		"subject", subject.String(),
		"count", len(records),
		"tailSeq", records[len(records)-1].Seq,
	)

	return records, nil
}

// resolveTailHash maps an expected tail hash to the exact seq to expect.
func (j *Journal) resolveTailHash(ctx context.Context, subjectID, want string) (int64, error) {
	info, err := j.store.GetSubjectInfo(ctx, subjectID)
	if err != nil {
		if want == "" && errors.Is(err, ledger.ErrSubjectNotFound) {
			return NoSubject, nil
		}
		return 0, err
	}

	if info.TailHash != want {
		return 0, ledger.NewChainConflictError(subjectID, info.Seq, info.Seq)
	}
	return info.Seq, nil
}

// Load retrieves all events of a subject with deserialized payloads,
// ordered by chain sequence.
func (j *Journal) Load(ctx context.Context, subject SubjectID) ([]Event, error) {
	return j.LoadFrom(ctx, subject, 0)
}

// LoadFrom retrieves events with Seq greater than fromSeq.
func (j *Journal) LoadFrom(ctx context.Context, subject SubjectID, fromSeq int64) ([]Event, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}

	records, err := j.store.Load(ctx, subject.String(), fromSeq)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(records))
	for i, rec := range records {
		payload, err := j.serializer.Deserialize(rec.Payload, rec.Kind)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail: failed to deserialize event %d: %w", i, err)
		}
		events[i] = EventFromRecord(rec, payload)
	}

	return events, nil
}

// LoadRecords retrieves raw (non-deserialized) records for a subject.
func (j *Journal) LoadRecords(ctx context.Context, subject SubjectID, fromSeq int64) ([]ledger.Record, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	return j.store.Load(ctx, subject.String(), fromSeq)
}

// LoadFromPosition retrieves raw records across all subjects in global
// order, starting after fromPosition.
func (j *Journal) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]ledger.Record, error) {
	return j.store.LoadFromPosition(ctx, fromPosition, limit)
}

// SubjectInfo returns chain metadata for a subject.
func (j *Journal) SubjectInfo(ctx context.Context, subject SubjectID) (*ledger.SubjectInfo, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	return j.store.GetSubjectInfo(ctx, subject.String())
}

// GetLastPosition returns the global position of the last stored record.
func (j *Journal) GetLastPosition(ctx context.Context) (uint64, error) {
	return j.store.GetLastPosition(ctx)
}

// VerifySubject recomputes the subject's hash chain from the first
// record. Returns a *ChainCorruptedError describing the first broken
// link, or nil if the chain is intact.
func (j *Journal) VerifySubject(ctx context.Context, subject SubjectID) error {
	if err := subject.Validate(); err != nil {
		return err
	}

	records, err := j.store.Load(ctx, subject.String(), 0)
	if err != nil {
		return err
	}

	return ledger.VerifyChain(subject.String(), records)
}

// Initialize sets up the required storage schema.
func (j *Journal) Initialize(ctx context.Context) error {
	return j.store.Initialize(ctx)
}

// Close releases resources held by the journal.
func (j *Journal) Close() error {
	return j.store.Close()
}
