package cacaotrail

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// RelayMessage is a ledger record prepared for an external system.
type RelayMessage struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subjectId"`
	Kind           string    `json:"kind"`
	Payload        []byte    `json:"payload"`
	Metadata       Metadata  `json:"metadata"`
	Seq            int64     `json:"seq"`
	Hash           string    `json:"hash"`
	GlobalPosition uint64    `json:"globalPosition"`
	Timestamp      time.Time `json:"timestamp"`
	Destination    string    `json:"destination"`
}

// Publisher delivers relay messages to an external system.
type Publisher interface {
	// Publish sends a batch of messages. An error means none of the
	// batch should be considered delivered.
	Publish(ctx context.Context, messages []*RelayMessage) error

	// Destination returns the destination prefix this publisher
	// handles, e.g. "kafka", "sns", "webhook".
	Destination() string
}

// RelayRoute selects which records go where.
type RelayRoute struct {
	// EventKinds this route matches. Empty matches all kinds.
	EventKinds []string

	// Destination is the target, e.g. "kafka:provenance" or
	// "webhook:https://example.com/events".
	Destination string

	// Filter optionally drops records. Return true to include.
	Filter func(rec ledger.Record) bool

	// Transform optionally replaces the payload before publishing.
	Transform func(rec ledger.Record) ([]byte, error)
}

func (r *RelayRoute) matches(rec ledger.Record) bool {
	if r.Filter != nil && !r.Filter(rec) {
		return false
	}
	if len(r.EventKinds) == 0 {
		return true
	}
	for _, kind := range r.EventKinds {
		if kind == rec.Kind {
			return true
		}
	}
	return false
}

// RelayMetrics collects metrics about relay progress.
type RelayMetrics interface {
	RecordPublished(destination string, count int)
	RecordPublishFailed(destination string)
	RecordBatchDuration(duration time.Duration)
	RecordLag(positions uint64)
}

type noopRelayMetrics struct{}

func (noopRelayMetrics) RecordPublished(destination string, count int) {}
func (noopRelayMetrics) RecordPublishFailed(destination string)        {}
func (noopRelayMetrics) RecordBatchDuration(duration time.Duration)    {}
func (noopRelayMetrics) RecordLag(positions uint64)                    {}

// Relay tails the ledger in global order and publishes matching records
// to external systems. Progress is tracked through a named checkpoint,
// so delivery is at-least-once: the checkpoint only advances after every
// publisher in the batch has accepted its messages.
type Relay struct {
	journal     *Journal
	checkpoints ledger.CheckpointStore
	routes      []RelayRoute
	publishers  map[string]Publisher

	name         string
	batchSize    int
	pollInterval time.Duration
	metrics      RelayMetrics
	logger       Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayName sets the checkpoint name. Two relays with different
// names track independent positions over the same ledger.
func WithRelayName(name string) RelayOption {
	return func(r *Relay) {
		r.name = name
	}
}

// WithRelayBatchSize sets how many records a poll loads at once.
func WithRelayBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRelayPollInterval sets how long the relay sleeps when caught up.
func WithRelayPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithRelayPublisher registers a publisher for its destination prefix.
func WithRelayPublisher(p Publisher) RelayOption {
	return func(r *Relay) {
		r.publishers[p.Destination()] = p
	}
}

// WithRelayMetrics sets the metrics collector.
func WithRelayMetrics(m RelayMetrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(l Logger) RelayOption {
	return func(r *Relay) {
		r.logger = l
	}
}

// NewRelay creates a relay over the journal. The checkpoint store keeps
// its position across restarts; the journal's ledger store can serve
// when it implements ledger.CheckpointStore.
func NewRelay(journal *Journal, checkpoints ledger.CheckpointStore, routes []RelayRoute, opts ...RelayOption) *Relay {
	r := &Relay{
		journal:      journal,
		checkpoints:  checkpoints,
		routes:       routes,
		publishers:   make(map[string]Publisher),
		name:         "cacaotrail-relay",
		batchSize:    100,
		pollInterval: time.Second,
		metrics:      noopRelayMetrics{},
		logger:       NoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins relaying in a background goroutine.
func (r *Relay) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("cacaotrail: relay already running")
	}
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop halts the relay and waits for the in-flight batch.
func (r *Relay) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
}

// IsRunning reports whether the relay loop is active.
func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		n, err := r.ProcessBatch(ctx)
		if err != nil {
			r.logger.Error("relay batch failed", "error", err)
		}

		// Drain continuously while there is backlog.
		if err == nil && n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch relays one batch of records and advances the checkpoint.
// It returns how many records were scanned.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	pos, err := r.checkpoints.GetCheckpoint(ctx, r.name)
	if err != nil {
		return 0, fmt.Errorf("cacaotrail: loading relay checkpoint: %w", err)
	}

	records, err := r.journal.LoadFromPosition(ctx, pos, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	batches := make(map[string][]*RelayMessage)
	for _, rec := range records {
		for i := range r.routes {
			route := &r.routes[i]
			if !route.matches(rec) {
				continue
			}
			msg, err := r.buildMessage(rec, route)
			if err != nil {
				return 0, err
			}
			prefix := destinationPrefix(route.Destination)
			batches[prefix] = append(batches[prefix], msg)
		}
	}

	for prefix, messages := range batches {
		publisher, ok := r.publishers[prefix]
		if !ok {
			return 0, fmt.Errorf("cacaotrail: no publisher for destination %q", prefix)
		}
		if err := publisher.Publish(ctx, messages); err != nil {
			r.metrics.RecordPublishFailed(prefix)
			return 0, fmt.Errorf("cacaotrail: publishing to %s: %w", prefix, err)
		}
		r.metrics.RecordPublished(prefix, len(messages))
	}

	tail := records[len(records)-1].GlobalPosition
	if err := r.checkpoints.SetCheckpoint(ctx, r.name, tail); err != nil {
		return 0, fmt.Errorf("cacaotrail: advancing relay checkpoint: %w", err)
	}

	r.metrics.RecordBatchDuration(time.Since(start))
	if last, err := r.journal.GetLastPosition(ctx); err == nil && last > tail {
		r.metrics.RecordLag(last - tail)
	}

	return len(records), nil
}

func (r *Relay) buildMessage(rec ledger.Record, route *RelayRoute) (*RelayMessage, error) {
	payload := rec.Payload
	if route.Transform != nil {
		transformed, err := route.Transform(rec)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail: transforming record %s: %w", rec.ID, err)
		}
		payload = transformed
	}
	return &RelayMessage{
		ID:             rec.ID,
		SubjectID:      rec.SubjectID,
		Kind:           rec.Kind,
		Payload:        payload,
		Metadata:       rec.Metadata,
		Seq:            rec.Seq,
		Hash:           rec.Hash,
		GlobalPosition: rec.GlobalPosition,
		Timestamp:      rec.Timestamp,
		Destination:    route.Destination,
	}, nil
}

// destinationPrefix returns the publisher prefix of a destination,
// the part before the first colon.
func destinationPrefix(destination string) string {
	if i := strings.Index(destination, ":"); i >= 0 {
		return destination[:i]
	}
	return destination
}

// DestinationTarget returns the part after the prefix, e.g. the topic
// name or webhook URL.
func DestinationTarget(destination string) string {
	if i := strings.Index(destination, ":"); i >= 0 {
		return destination[i+1:]
	}
	return ""
}
