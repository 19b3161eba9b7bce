// Package ledger defines the storage contract for the append-only,
// hash-chained provenance log and shared utilities for its backends.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for ledger backends.
// Backends should return these (or errors that match via errors.Is)
// to enable consistent error handling across different stores.
var (
	// ErrChainConflict is returned when an optimistic append check fails:
	// the caller's expected tail does not match the subject's actual tail.
	ErrChainConflict = errors.New("cacaotrail: chain conflict")

	// ErrChainCorrupted is returned when hash-chain verification fails.
	// Corruption is fatal for the affected subject and is never auto-repaired.
	ErrChainCorrupted = errors.New("cacaotrail: chain corrupted")

	// ErrSubjectNotFound is returned when a subject chain does not exist.
	ErrSubjectNotFound = errors.New("cacaotrail: subject not found")

	// ErrEmptySubjectID is returned when an empty subject ID is provided.
	ErrEmptySubjectID = errors.New("cacaotrail: subject ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("cacaotrail: no events to append")

	// ErrInvalidSeq is returned when an invalid sequence number is specified.
	ErrInvalidSeq = errors.New("cacaotrail: invalid sequence number")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("cacaotrail: ledger store is closed")
)

// Metadata carries contextual information alongside an event, preserved
// across serialization. It is payload data, never part of the hash chain.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// ActorID identifies who submitted the originating command.
	ActorID string `json:"actorId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// EventDraft is an event to be appended, before the store assigns its
// position in the chain.
type EventDraft struct {
	// Kind is the event kind identifier (e.g., "Harvested").
	Kind string

	// Payload is the serialized event payload.
	Payload []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// Record is a persisted event with its chain commitments.
// Once stored, a record is never updated or deleted.
type Record struct {
	// ID is the globally unique record identifier.
	ID string

	// SubjectID identifies the chain this record belongs to.
	SubjectID string

	// Seq is the position within the subject chain (1-based, gap-free).
	Seq int64

	// Kind is the event kind identifier.
	Kind string

	// Payload is the serialized event payload.
	Payload []byte

	// PrevHash is the hash of the immediately preceding record in the
	// subject chain, or the empty string for the first record.
	PrevHash string

	// Hash commits to {PrevHash, Seq, Kind, Payload}. See ChainHash.
	Hash string

	// GlobalPosition is the position across all subjects.
	GlobalPosition uint64

	// Timestamp is when the record was stored. Payload data only; replay
	// and audit ordering always use Seq and GlobalPosition.
	Timestamp time.Time

	// Metadata contains contextual information.
	Metadata Metadata
}

// SubjectInfo contains metadata about a subject chain.
type SubjectInfo struct {
	// SubjectID is the chain identifier.
	SubjectID string

	// Kind is the subject kind (first part of the subject ID).
	Kind string

	// Seq is the current tail sequence number.
	Seq int64

	// TailHash is the hash of the last record in the chain.
	TailHash string

	// EventCount is the number of records in the chain.
	EventCount int64

	// CreatedAt is when the first record was stored.
	CreatedAt time.Time

	// UpdatedAt is when the last record was stored.
	UpdatedAt time.Time
}

// Store is the interface ledger backends must implement.
// Append is the sole mutation; there is no update or delete.
type Store interface {
	// Append stores events at the tail of the subject chain with an
	// optimistic concurrency check. expectedSeq is the expected current
	// tail sequence:
	//   - AnySeq (-1): skip the check
	//   - NoSubject (0): the chain must not exist yet
	//   - SubjectExists (-2): the chain must exist
	//   - any positive number: the tail must be at exactly this sequence
	// The store computes PrevHash and Hash for each record. Once Append
	// returns, the records are durable and their positions are final.
	Append(ctx context.Context, subjectID string, events []EventDraft, expectedSeq int64) ([]Record, error)

	// Load retrieves records for a subject with Seq > fromSeq, in order.
	// Use fromSeq=0 to load the whole chain. A missing subject yields an
	// empty slice, not an error.
	Load(ctx context.Context, subjectID string, fromSeq int64) ([]Record, error)

	// LoadFromPosition retrieves records across all subjects with
	// GlobalPosition > fromPosition, in global order, up to limit.
	// This is the replay path for projections and verification.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]Record, error)

	// GetSubjectInfo returns chain metadata for a subject.
	// Returns ErrSubjectNotFound if the chain does not exist.
	GetSubjectInfo(ctx context.Context, subjectID string) (*SubjectInfo, error)

	// GetLastPosition returns the global position of the last stored
	// record, or 0 if the ledger is empty.
	GetLastPosition(ctx context.Context) (uint64, error)

	// Initialize sets up any required storage schema.
	Initialize(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// SubscriptionOptions configures live subscriptions.
type SubscriptionOptions struct {
	// BufferSize is the size of the record channel buffer. Default: 100.
	BufferSize int

	// PollInterval is how often polling-based backends check for new
	// records. Default: 100ms.
	PollInterval time.Duration
}

// SubscriptionStore provides live record delivery.
// Backends may optionally implement this interface.
type SubscriptionStore interface {
	// SubscribeAll delivers records across all subjects starting after
	// the given global position.
	SubscribeAll(ctx context.Context, fromPosition uint64, opts ...SubscriptionOptions) (<-chan Record, error)
}

// CheckpointStore persists replay positions for projections and relays.
type CheckpointStore interface {
	// GetCheckpoint returns the last processed global position for a
	// named consumer, or 0 if none exists.
	GetCheckpoint(ctx context.Context, name string) (uint64, error)

	// SetCheckpoint stores the last processed global position.
	SetCheckpoint(ctx context.Context, name string, position uint64) error
}

// ChainCheckpoint records the verified tail of a subject chain.
// The verifier compares a recomputed chain against this commitment.
type ChainCheckpoint struct {
	// SubjectID is the chain identifier.
	SubjectID string

	// Seq is the tail sequence at checkpoint time.
	Seq int64

	// Hash is the tail hash at checkpoint time.
	Hash string

	// UpdatedAt is when the checkpoint was written.
	UpdatedAt time.Time
}

// ChainCheckpointStore persists per-subject chain checkpoints.
type ChainCheckpointStore interface {
	// GetChainCheckpoint returns the checkpoint for a subject.
	// Returns nil, nil if no checkpoint exists.
	GetChainCheckpoint(ctx context.Context, subjectID string) (*ChainCheckpoint, error)

	// SetChainCheckpoint stores the checkpoint for a subject.
	SetChainCheckpoint(ctx context.Context, cp *ChainCheckpoint) error
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the store can reach its backend.
	Ping(ctx context.Context) error
}
