package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Sequence constants for optimistic concurrency control.
// These special values may be passed as expectedSeq to Append.
const (
	// AnySeq skips the tail check. Use when concurrent appends to the
	// same subject cannot occur or do not matter.
	AnySeq int64 = -1

	// NoSubject requires the chain to not exist. Use for first events.
	NoSubject int64 = 0

	// SubjectExists requires the chain to exist.
	SubjectExists int64 = -2
)

// ChainHash computes the hash commitment for a record: SHA-256 over the
// previous record's hash, the sequence number, the event kind, and the
// raw payload bytes, hex-encoded. Every backend must use this exact
// derivation so chains remain verifiable regardless of where records
// were written.
func ChainHash(prevHash string, seq int64, kind string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(seq, 10)))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the hash chain over a subject's records and
// reports the first divergence found. Records must be a complete chain
// ordered by Seq starting at 1; gaps, reordered sequences, and hash
// mismatches are all reported as a *ChainCorruptionError.
func VerifyChain(subjectID string, records []Record) error {
	prevHash := ""
	for i, rec := range records {
		wantSeq := int64(i + 1)
		if rec.Seq != wantSeq {
			return &ChainCorruptionError{
				SubjectID: subjectID,
				Seq:       rec.Seq,
				Reason:    fmt.Sprintf("sequence gap: want %d, got %d", wantSeq, rec.Seq),
			}
		}
		if rec.PrevHash != prevHash {
			return &ChainCorruptionError{
				SubjectID: subjectID,
				Seq:       rec.Seq,
				WantHash:  prevHash,
				GotHash:   rec.PrevHash,
				Reason:    "previous-hash link broken",
			}
		}
		want := ChainHash(prevHash, rec.Seq, rec.Kind, rec.Payload)
		if rec.Hash != want {
			return &ChainCorruptionError{
				SubjectID: subjectID,
				Seq:       rec.Seq,
				WantHash:  want,
				GotHash:   rec.Hash,
				Reason:    "record hash does not match recomputed hash",
			}
		}
		prevHash = rec.Hash
	}
	return nil
}

// ExtractKind extracts the subject kind from a subject ID.
// Subject IDs follow the format "Kind-ID" (e.g., "Batch-b1"); the kind
// is the portion before the first hyphen. An ID with no hyphen is
// returned whole.
func ExtractKind(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	parts := strings.SplitN(subjectID, "-", 2)
	return parts[0]
}

// CheckSeq validates an expected tail sequence against the actual tail.
// exists reports whether the subject chain exists at all.
func CheckSeq(subjectID string, expected, current int64, exists bool) error {
	switch expected {
	case AnySeq:
		return nil
	case NoSubject:
		if exists {
			return NewChainConflictError(subjectID, expected, current)
		}
		return nil
	case SubjectExists:
		if !exists {
			return NewSubjectNotFoundError(subjectID)
		}
		return nil
	default:
		if expected < 0 {
			return ErrInvalidSeq
		}
		if current != expected {
			return NewChainConflictError(subjectID, expected, current)
		}
		return nil
	}
}

// ChainConflictError provides details about a failed optimistic append.
type ChainConflictError struct {
	SubjectID   string
	ExpectedSeq int64
	ActualSeq   int64
}

// NewChainConflictError creates a new ChainConflictError.
func NewChainConflictError(subjectID string, expected, actual int64) *ChainConflictError {
	return &ChainConflictError{
		SubjectID:   subjectID,
		ExpectedSeq: expected,
		ActualSeq:   actual,
	}
}

// Error implements the error interface.
func (e *ChainConflictError) Error() string {
	return fmt.Sprintf("cacaotrail: chain conflict on subject %q: expected tail seq %d, got %d",
		e.SubjectID, e.ExpectedSeq, e.ActualSeq)
}

// Is implements errors.Is compatibility.
func (e *ChainConflictError) Is(target error) bool {
	return target == ErrChainConflict
}

// Unwrap returns the underlying sentinel for errors.Unwrap().
func (e *ChainConflictError) Unwrap() error {
	return ErrChainConflict
}

// SubjectNotFoundError provides details about a missing subject chain.
type SubjectNotFoundError struct {
	SubjectID string
}

// NewSubjectNotFoundError creates a new SubjectNotFoundError.
func NewSubjectNotFoundError(subjectID string) *SubjectNotFoundError {
	return &SubjectNotFoundError{SubjectID: subjectID}
}

// Error implements the error interface.
func (e *SubjectNotFoundError) Error() string {
	return fmt.Sprintf("cacaotrail: subject %q not found", e.SubjectID)
}

// Is implements errors.Is compatibility.
func (e *SubjectNotFoundError) Is(target error) bool {
	return target == ErrSubjectNotFound
}

// Unwrap returns the underlying sentinel for errors.Unwrap().
func (e *SubjectNotFoundError) Unwrap() error {
	return ErrSubjectNotFound
}

// ChainCorruptionError reports a hash-chain verification failure.
// This error is fatal for the affected subject and is never auto-repaired.
type ChainCorruptionError struct {
	SubjectID string
	Seq       int64
	WantHash  string
	GotHash   string
	Reason    string
}

// Error implements the error interface.
func (e *ChainCorruptionError) Error() string {
	return fmt.Sprintf("cacaotrail: chain corrupted on subject %q at seq %d: %s",
		e.SubjectID, e.Seq, e.Reason)
}

// Is implements errors.Is compatibility.
func (e *ChainCorruptionError) Is(target error) bool {
	return target == ErrChainCorrupted
}

// Unwrap returns the underlying sentinel for errors.Unwrap().
func (e *ChainCorruptionError) Unwrap() error {
	return ErrChainCorrupted
}
