// Package memory provides an in-memory ledger backend.
// It is intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
	"github.com/google/uuid"
)

// Sequence constants re-exported from the ledger package for convenience.
const (
	AnySeq        = ledger.AnySeq
	NoSubject     = ledger.NoSubject
	SubjectExists = ledger.SubjectExists
)

// Ensure MemoryStore implements all supported interfaces.
var (
	_ ledger.Store                = (*MemoryStore)(nil)
	_ ledger.SubscriptionStore    = (*MemoryStore)(nil)
	_ ledger.CheckpointStore      = (*MemoryStore)(nil)
	_ ledger.ChainCheckpointStore = (*MemoryStore)(nil)
	_ ledger.HealthChecker        = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory implementation of ledger.Store.
// It is thread-safe and suitable for unit testing.
type MemoryStore struct {
	mu             sync.RWMutex
	subjects       map[string]*chainData
	globalRecords  []ledger.Record
	globalPosition uint64
	checkpoints    map[string]uint64
	chainCPs       map[string]*ledger.ChainCheckpoint
	closed         bool

	subscribers   []chan ledger.Record
	subscribersMu sync.RWMutex
}

type chainData struct {
	info    ledger.SubjectInfo
	records []ledger.Record
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// NewStore creates a new in-memory ledger store.
func NewStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		subjects:    make(map[string]*chainData),
		checkpoints: make(map[string]uint64),
		chainCPs:    make(map[string]*ledger.ChainCheckpoint),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize is a no-op for the memory store.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events at the tail of the subject chain.
func (s *MemoryStore) Append(ctx context.Context, subjectID string, events []ledger.EventDraft, expectedSeq int64) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	if subjectID == "" {
		return nil, ledger.ErrEmptySubjectID
	}

	if len(events) == 0 {
		return nil, ledger.ErrNoEvents
	}

	chain, exists := s.subjects[subjectID]
	currentSeq := int64(0)
	prevHash := ""
	if exists {
		currentSeq = chain.info.Seq
		prevHash = chain.info.TailHash
	}

	if err := ledger.CheckSeq(subjectID, expectedSeq, currentSeq, exists); err != nil {
		return nil, err
	}

	if !exists {
		chain = &chainData{
			info: ledger.SubjectInfo{
				SubjectID: subjectID,
				Kind:      ledger.ExtractKind(subjectID),
				CreatedAt: time.Now(),
			},
		}
		s.subjects[subjectID] = chain
	}

	now := time.Now()
	stored := make([]ledger.Record, len(events))

	for i, event := range events {
		s.globalPosition++
		currentSeq++

		rec := ledger.Record{
			ID:             uuid.New().String(),
			SubjectID:      subjectID,
			Seq:            currentSeq,
			Kind:           event.Kind,
			Payload:        event.Payload,
			PrevHash:       prevHash,
			Hash:           ledger.ChainHash(prevHash, currentSeq, event.Kind, event.Payload),
			GlobalPosition: s.globalPosition,
			Timestamp:      now,
			Metadata:       event.Metadata,
		}

		chain.records = append(chain.records, rec)
		s.globalRecords = append(s.globalRecords, rec)
		stored[i] = rec
		prevHash = rec.Hash
	}

	chain.info.Seq = currentSeq
	chain.info.TailHash = prevHash
	chain.info.EventCount = int64(len(chain.records))
	chain.info.UpdatedAt = now

	s.notifySubscribers(stored)

	return stored, nil
}

// Load retrieves records for a subject with Seq > fromSeq.
func (s *MemoryStore) Load(ctx context.Context, subjectID string, fromSeq int64) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	if subjectID == "" {
		return nil, ledger.ErrEmptySubjectID
	}

	chain, exists := s.subjects[subjectID]
	if !exists {
		return []ledger.Record{}, nil
	}

	records := make([]ledger.Record, 0)
	for _, rec := range chain.records {
		if rec.Seq > fromSeq {
			records = append(records, rec)
		}
	}

	return records, nil
}

// LoadFromPosition retrieves records across all subjects in global order.
func (s *MemoryStore) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	if limit <= 0 {
		limit = 1000
	}

	var records []ledger.Record
	for _, rec := range s.globalRecords {
		if rec.GlobalPosition > fromPosition {
			records = append(records, rec)
			if len(records) >= limit {
				break
			}
		}
	}

	return records, nil
}

// GetSubjectInfo returns chain metadata for a subject.
func (s *MemoryStore) GetSubjectInfo(ctx context.Context, subjectID string) (*ledger.SubjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	chain, exists := s.subjects[subjectID]
	if !exists {
		return nil, ledger.NewSubjectNotFoundError(subjectID)
	}

	// Return a copy to prevent mutation.
	info := chain.info
	return &info, nil
}

// GetLastPosition returns the global position of the last stored record.
func (s *MemoryStore) GetLastPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ledger.ErrStoreClosed
	}

	return s.globalPosition, nil
}

// Close releases resources held by the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	s.subscribersMu.Lock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.subscribersMu.Unlock()

	return nil
}

// SubscribeAll delivers records across all subjects starting after fromPosition.
func (s *MemoryStore) SubscribeAll(ctx context.Context, fromPosition uint64, opts ...ledger.SubscriptionOptions) (<-chan ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ledger.ErrStoreClosed
	}

	bufferSize := 100
	if len(opts) > 0 && opts[0].BufferSize > 0 {
		bufferSize = opts[0].BufferSize
	}

	ch := make(chan ledger.Record, bufferSize)

	// Replay history first.
	for _, rec := range s.globalRecords {
		if rec.GlobalPosition > fromPosition {
			select {
			case ch <- rec:
			case <-ctx.Done():
				close(ch)
				s.mu.RUnlock()
				return nil, ctx.Err()
			}
		}
	}
	s.mu.RUnlock()

	s.subscribersMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subscribersMu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeSubscriber(ch)
	}()

	return ch, nil
}

// GetCheckpoint returns the last processed position for a consumer.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ledger.ErrStoreClosed
	}

	return s.checkpoints[name], nil
}

// SetCheckpoint stores the last processed position for a consumer.
func (s *MemoryStore) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ledger.ErrStoreClosed
	}

	s.checkpoints[name] = position
	return nil
}

// GetChainCheckpoint returns the verified tail checkpoint for a subject.
func (s *MemoryStore) GetChainCheckpoint(ctx context.Context, subjectID string) (*ledger.ChainCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	cp, exists := s.chainCPs[subjectID]
	if !exists {
		return nil, nil
	}

	// Return a copy.
	out := *cp
	return &out, nil
}

// SetChainCheckpoint stores the verified tail checkpoint for a subject.
func (s *MemoryStore) SetChainCheckpoint(ctx context.Context, cp *ledger.ChainCheckpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ledger.ErrStoreClosed
	}

	stored := *cp
	s.chainCPs[cp.SubjectID] = &stored
	return nil
}

// Ping checks if the store is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ledger.ErrStoreClosed
	}

	return nil
}

// Reset clears all data. Useful for testing.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subjects = make(map[string]*chainData)
	s.globalRecords = nil
	s.globalPosition = 0
	s.checkpoints = make(map[string]uint64)
	s.chainCPs = make(map[string]*ledger.ChainCheckpoint)
}

// RecordCount returns the total number of records stored.
func (s *MemoryStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.globalRecords)
}

// SubjectCount returns the number of subject chains.
func (s *MemoryStore) SubjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subjects)
}

// TamperPayload overwrites the stored payload of one record without
// recomputing hashes. Test hook for verifier coverage; real backends
// have no equivalent operation.
func (s *MemoryStore) TamperPayload(subjectID string, seq int64, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, exists := s.subjects[subjectID]
	if !exists {
		return false
	}
	for i := range chain.records {
		if chain.records[i].Seq == seq {
			chain.records[i].Payload = payload
			for j := range s.globalRecords {
				if s.globalRecords[j].SubjectID == subjectID && s.globalRecords[j].Seq == seq {
					s.globalRecords[j].Payload = payload
				}
			}
			return true
		}
	}
	return false
}

// notifySubscribers sends records to all subscribers without blocking.
func (s *MemoryStore) notifySubscribers(records []ledger.Record) {
	s.subscribersMu.RLock()
	defer s.subscribersMu.RUnlock()

	for _, ch := range s.subscribers {
		for _, rec := range records {
			select {
			case ch <- rec:
			default:
				// Channel full, skip.
			}
		}
	}
}

// removeSubscriber removes a subscriber channel.
func (s *MemoryStore) removeSubscriber(ch chan ledger.Record) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, subscriber := range s.subscribers {
		if subscriber == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}
