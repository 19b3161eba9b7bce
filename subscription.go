package cacaotrail

import (
	"context"
	"sync"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// RecordFilter selects which ledger records a subscription delivers.
type RecordFilter interface {
	Matches(rec ledger.Record) bool
}

// KindFilter matches records by event kind.
type KindFilter struct {
	kinds map[string]bool
}

// NewKindFilter creates a filter matching the given kinds.
func NewKindFilter(kinds ...string) *KindFilter {
	f := &KindFilter{kinds: make(map[string]bool, len(kinds))}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

// Matches reports whether the record's kind is in the filter.
func (f *KindFilter) Matches(rec ledger.Record) bool {
	return f.kinds[rec.Kind]
}

// SubjectKindFilter matches records by subject kind, e.g. every batch
// record regardless of event kind.
type SubjectKindFilter struct {
	kind string
}

// NewSubjectKindFilter creates a filter for one subject kind.
func NewSubjectKindFilter(kind string) *SubjectKindFilter {
	return &SubjectKindFilter{kind: kind}
}

// Matches reports whether the record's subject has the filtered kind.
func (f *SubjectKindFilter) Matches(rec ledger.Record) bool {
	return ledger.ExtractKind(rec.SubjectID) == f.kind
}

// Follower tails the ledger and keeps a materialized store live. It is
// the long-running form of projection: catch up from the checkpoint,
// then apply new records as they arrive. A read replica runs one
// Follower per materialized store.
type Follower struct {
	journal      *Journal
	projector    *Projector
	checkpoints  ledger.CheckpointStore
	name         string
	pollInterval time.Duration
	logger       Logger

	mu       sync.Mutex
	position uint64
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}
}

// FollowerOption configures a Follower.
type FollowerOption func(*Follower)

// WithFollowerName sets the checkpoint name.
func WithFollowerName(name string) FollowerOption {
	return func(f *Follower) {
		f.name = name
	}
}

// WithFollowerPollInterval sets the fallback poll interval used when
// the store has no push notification.
func WithFollowerPollInterval(d time.Duration) FollowerOption {
	return func(f *Follower) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithFollowerLogger sets the logger.
func WithFollowerLogger(l Logger) FollowerOption {
	return func(f *Follower) {
		f.logger = l
	}
}

// NewFollower creates a follower projecting into the given materialized
// store. The checkpoint store remembers its position across restarts.
func NewFollower(journal *Journal, materialized MaterializedStore, checkpoints ledger.CheckpointStore, opts ...FollowerOption) *Follower {
	f := &Follower{
		journal:      journal,
		checkpoints:  checkpoints,
		name:         "cacaotrail-follower",
		pollInterval: 200 * time.Millisecond,
		logger:       NoopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.projector = NewProjector(materialized,
		WithProjectorSerializer(journal.Serializer()),
		WithProjectorLogger(f.logger),
	)
	return f
}

// Start resumes from the checkpoint and follows the ledger until the
// context is done or Close is called.
func (f *Follower) Start(ctx context.Context) error {
	pos, err := f.checkpoints.GetCheckpoint(ctx, f.name)
	if err != nil {
		return err
	}

	sub, ok := f.journal.Store().(ledger.SubscriptionStore)
	if !ok {
		// No push support; poll the log directly.
		ctx, cancel := context.WithCancel(ctx)
		f.mu.Lock()
		f.cancel = cancel
		f.done = make(chan struct{})
		f.position = pos
		f.mu.Unlock()
		go f.pollLoop(ctx)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	records, err := sub.SubscribeAll(ctx, pos, ledger.SubscriptionOptions{
		PollInterval: f.pollInterval,
	})
	if err != nil {
		cancel()
		return err
	}

	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	f.position = pos
	f.mu.Unlock()

	go f.consume(ctx, records)
	return nil
}

// Close stops the follower and waits for the loop to exit.
func (f *Follower) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Position returns the last projected global position.
func (f *Follower) Position() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// Err returns the error that stopped the follower, if any.
func (f *Follower) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Follower) consume(ctx context.Context, records <-chan ledger.Record) {
	defer close(f.done)

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if err := f.apply(ctx, rec); err != nil {
				f.setErr(err)
				return
			}
		}
	}
}

func (f *Follower) pollLoop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		records, err := f.journal.LoadFromPosition(ctx, f.Position(), 100)
		if err != nil {
			f.setErr(err)
			return
		}
		for _, rec := range records {
			if err := f.apply(ctx, rec); err != nil {
				f.setErr(err)
				return
			}
		}
		if len(records) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *Follower) apply(ctx context.Context, rec ledger.Record) error {
	if err := f.projector.Apply(ctx, rec); err != nil {
		f.logger.Error("follower projection failed",
			"subject", rec.SubjectID, "seq", rec.Seq, "error", err)
		return err
	}
	if err := f.checkpoints.SetCheckpoint(ctx, f.name, rec.GlobalPosition); err != nil {
		return err
	}
	f.mu.Lock()
	f.position = rec.GlobalPosition
	f.mu.Unlock()
	return nil
}

func (f *Follower) setErr(err error) {
	if err == context.Canceled {
		return
	}
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}
