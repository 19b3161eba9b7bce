package cacaotrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// IdempotentCommand is a command that carries its own idempotency key,
// typically a request ID from the caller.
type IdempotentCommand interface {
	Command
	IdempotencyKey() string
}

// IdempotencyRecord remembers the outcome of a processed command.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	CommandName string    `json:"commandName"`
	Ack         Ack       `json:"ack"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IsExpired reports whether the record's TTL has passed.
func (r *IdempotencyRecord) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IdempotencyStore tracks processed commands to prevent duplicates.
type IdempotencyStore interface {
	// Get returns the record for a key, or nil when absent.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Store saves a record.
	Store(ctx context.Context, record *IdempotencyRecord) error

	// Cleanup removes expired records.
	Cleanup(ctx context.Context) error
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]*IdempotencyRecord
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]*IdempotencyRecord)}
}

// Get returns the record for a key, or nil when absent.
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

// Store saves a record.
func (s *MemoryIdempotencyStore) Store(ctx context.Context, record *IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.Key] = &copied
	return nil
}

// Cleanup removes expired records.
func (s *MemoryIdempotencyStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.records {
		if record.IsExpired() {
			delete(s.records, key)
		}
	}
	return nil
}

// GenerateIdempotencyKey derives a deterministic key from the command
// name and its JSON content. Identical commands produce identical keys.
func GenerateIdempotencyKey(cmd Command) string {
	data, err := json.Marshal(cmd)
	if err != nil {
		sum := sha256.Sum256([]byte(cmd.CommandName()))
		return cmd.CommandName() + ":name-only:" + hex.EncodeToString(sum[:16])
	}
	sum := sha256.Sum256(data)
	return cmd.CommandName() + ":" + hex.EncodeToString(sum[:16])
}

// IdempotencyKeyOf returns the key a command should be deduplicated on:
// the command's own key when it implements IdempotentCommand, otherwise
// a content-derived one.
func IdempotencyKeyOf(cmd Command) string {
	if ic, ok := cmd.(IdempotentCommand); ok && ic.IdempotencyKey() != "" {
		return ic.IdempotencyKey()
	}
	return GenerateIdempotencyKey(cmd)
}

// IdempotencyConfig configures IdempotencyMiddleware.
type IdempotencyConfig struct {
	// Store holds the processed-command records.
	Store IdempotencyStore

	// TTL is how long records are kept. Default 24 hours.
	TTL time.Duration

	// KeyGenerator derives keys from commands. Default IdempotencyKeyOf.
	KeyGenerator func(Command) string

	// StoreErrors remembers failed commands too, so replaying one
	// returns the same error instead of retrying. Default false.
	StoreErrors bool
}

// IdempotencyMiddleware suppresses duplicate submissions. A replayed
// command returns the original Ack without touching the ledger.
func IdempotencyMiddleware(config IdempotencyConfig) Middleware {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = IdempotencyKeyOf
	}

	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			key := config.KeyGenerator(cmd)

			record, err := config.Store.Get(ctx, key)
			if err != nil {
				// Deduplication is best effort; the per-subject seq
				// check still rejects true double appends.
				return next(ctx, cmd)
			}
			if record != nil && !record.IsExpired() {
				if record.Success {
					return record.Ack, nil
				}
				return Ack{}, &IdempotencyReplayError{Key: key, Message: record.Error}
			}

			ack, cmdErr := next(ctx, cmd)

			if cmdErr == nil || config.StoreErrors {
				now := time.Now()
				stored := &IdempotencyRecord{
					Key:         key,
					CommandName: cmd.CommandName(),
					Ack:         ack,
					Success:     cmdErr == nil,
					ProcessedAt: now,
					ExpiresAt:   now.Add(config.TTL),
				}
				if cmdErr != nil {
					stored.Error = cmdErr.Error()
				}
				_ = config.Store.Store(ctx, stored)
			}

			return ack, cmdErr
		}
	}
}

// IdempotencyReplayError reports that a failed command was replayed.
type IdempotencyReplayError struct {
	Key     string
	Message string
}

func (e *IdempotencyReplayError) Error() string {
	if e.Message != "" {
		return "cacaotrail: command already processed with key " + e.Key + ": " + e.Message
	}
	return "cacaotrail: command already processed with key " + e.Key
}

func (e *IdempotencyReplayError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}

func (e *IdempotencyReplayError) Unwrap() error {
	return ErrAlreadyProcessed
}
