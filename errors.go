package cacaotrail

import (
	"errors"
	"fmt"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level sentinels are aliases to the ledger package errors.
var (
	// ErrSubjectNotFound indicates the requested subject chain does not exist.
	ErrSubjectNotFound = ledger.ErrSubjectNotFound

	// ErrChainConflict indicates an optimistic append collided with a
	// concurrent writer.
	ErrChainConflict = ledger.ErrChainConflict

	// ErrChainCorrupted indicates hash-chain verification failed.
	ErrChainCorrupted = ledger.ErrChainCorrupted

	// ErrEmptySubjectID indicates an empty subject ID was provided.
	ErrEmptySubjectID = ledger.ErrEmptySubjectID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = ledger.ErrNoEvents

	// ErrInvalidSeq indicates an invalid sequence number was provided.
	ErrInvalidSeq = ledger.ErrInvalidSeq

	// ErrStoreClosed indicates the backing store has been closed.
	ErrStoreClosed = ledger.ErrStoreClosed

	// ErrValidationFailed indicates command validation failed.
	ErrValidationFailed = errors.New("cacaotrail: validation failed")

	// ErrConsumptionExceeded indicates a composition would consume more
	// cacao than the batch has left.
	ErrConsumptionExceeded = errors.New("cacaotrail: batch consumption exceeded")

	// ErrProjectionDrift indicates the materialized store diverged from
	// a replay of the event log.
	ErrProjectionDrift = errors.New("cacaotrail: projection drift")

	// ErrSubjectHalted indicates writes for a subject are suspended
	// because its chain failed verification.
	ErrSubjectHalted = errors.New("cacaotrail: subject halted")

	// ErrUnknownEventKind indicates an event kind outside the provenance
	// vocabulary was encountered.
	ErrUnknownEventKind = errors.New("cacaotrail: unknown event kind")

	// ErrSerializationFailed indicates payload serialization or
	// deserialization failed.
	ErrSerializationFailed = errors.New("cacaotrail: serialization failed")

	// ErrNilCommand indicates a nil command was submitted.
	ErrNilCommand = errors.New("cacaotrail: nil command")

	// ErrHandlerPanicked indicates a command handler panicked.
	ErrHandlerPanicked = errors.New("cacaotrail: handler panicked")

	// ErrCoordinatorClosed indicates the write coordinator has been shut down.
	ErrCoordinatorClosed = errors.New("cacaotrail: coordinator closed")

	// ErrNotFound indicates a read-model entity does not exist.
	ErrNotFound = errors.New("cacaotrail: not found")

	// ErrAlreadyExists indicates a read-model entity already exists.
	ErrAlreadyExists = errors.New("cacaotrail: already exists")

	// ErrAlreadyProcessed indicates a command was deduplicated by its
	// idempotency key.
	ErrAlreadyProcessed = errors.New("cacaotrail: command already processed")
)

// Detailed error types are re-exported from the ledger package so
// callers can errors.As against them without importing both packages.
type (
	// ChainConflictError provides details about a failed optimistic append.
	ChainConflictError = ledger.ChainConflictError

	// ChainCorruptedError reports a hash-chain verification failure.
	ChainCorruptedError = ledger.ChainCorruptionError

	// SubjectNotFoundError provides details about a missing subject chain.
	SubjectNotFoundError = ledger.SubjectNotFoundError
)

// ValidationError describes a command field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("cacaotrail: validation failed on field %q: %s", e.Field, e.Message)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ValidationErrors collects multiple field failures from one command.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Error returns the combined error message.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("cacaotrail: validation failed with %d errors", len(e.Errors))
}

// Is reports whether this error matches the target error.
func (e *ValidationErrors) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Add appends a field failure.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, NewValidationError(field, message))
}

// HasErrors reports whether any failures were collected.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ConsumptionExceededError reports a composition that would overdraw a
// cacao batch. Quantities are in the batch's unit of measure.
type ConsumptionExceededError struct {
	BatchID   string
	Harvested float64
	Consumed  float64
	Requested float64
}

// NewConsumptionExceededError creates a new ConsumptionExceededError.
func NewConsumptionExceededError(batchID string, harvested, consumed, requested float64) *ConsumptionExceededError {
	return &ConsumptionExceededError{
		BatchID:   batchID,
		Harvested: harvested,
		Consumed:  consumed,
		Requested: requested,
	}
}

// Error returns the error message.
func (e *ConsumptionExceededError) Error() string {
	return fmt.Sprintf("cacaotrail: batch %q consumption exceeded: harvested %.3f, consumed %.3f, requested %.3f",
		e.BatchID, e.Harvested, e.Consumed, e.Requested)
}

// Is reports whether this error matches the target error.
func (e *ConsumptionExceededError) Is(target error) bool {
	return target == ErrConsumptionExceeded
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConsumptionExceededError) Unwrap() error {
	return ErrConsumptionExceeded
}

// Remaining returns the quantity still available for composition.
func (e *ConsumptionExceededError) Remaining() float64 {
	return e.Harvested - e.Consumed
}

// ProjectionDriftError reports a divergence between the materialized
// store and a replay of the event log. Drift is recoverable: rebuilding
// the projection from the log resolves it.
type ProjectionDriftError struct {
	SubjectID string
	Field     string
	Want      string
	Got       string
}

// Error returns the error message.
func (e *ProjectionDriftError) Error() string {
	return fmt.Sprintf("cacaotrail: projection drift on subject %q: field %q want %q, got %q",
		e.SubjectID, e.Field, e.Want, e.Got)
}

// Is reports whether this error matches the target error.
func (e *ProjectionDriftError) Is(target error) bool {
	return target == ErrProjectionDrift
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ProjectionDriftError) Unwrap() error {
	return ErrProjectionDrift
}

// SubjectHaltedError reports that a subject refuses writes after its
// chain failed verification.
type SubjectHaltedError struct {
	SubjectID string
	Cause     error
}

// Error returns the error message.
func (e *SubjectHaltedError) Error() string {
	return fmt.Sprintf("cacaotrail: subject %q halted: %v", e.SubjectID, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SubjectHaltedError) Is(target error) bool {
	return target == ErrSubjectHalted
}

// Unwrap returns the halting cause for errors.Unwrap().
func (e *SubjectHaltedError) Unwrap() error {
	return e.Cause
}

// UnknownEventKindError reports an event kind outside the vocabulary.
type UnknownEventKindError struct {
	Kind string
}

// Error returns the error message.
func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("cacaotrail: unknown event kind %q", e.Kind)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventKindError) Is(target error) bool {
	return target == ErrUnknownEventKind
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEventKindError) Unwrap() error {
	return ErrUnknownEventKind
}

// SerializationError provides details about a serialization failure.
type SerializationError struct {
	Kind      string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(kind, operation string, cause error) *SerializationError {
	return &SerializationError{Kind: kind, Operation: operation, Cause: cause}
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("cacaotrail: failed to %s event kind %q: %v", e.Operation, e.Kind, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// PanicError provides details about a command handler panic.
type PanicError struct {
	CommandName string
	Value       interface{}
	Stack       string
}

// NewPanicError creates a new PanicError.
func NewPanicError(commandName string, value interface{}, stack string) *PanicError {
	return &PanicError{CommandName: commandName, Value: value, Stack: stack}
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("cacaotrail: handler panicked while processing %q: %v", e.CommandName, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}
