package cacaotrail

import (
	"fmt"
	"strings"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Sequence constants for optimistic concurrency control.
// These are aliases to the ledger package constants.
const (
	// AnySeq skips the tail check, allowing append regardless of the
	// current chain tail.
	AnySeq = ledger.AnySeq

	// NoSubject indicates the subject must not exist (first event).
	NoSubject = ledger.NoSubject

	// SubjectExists indicates the subject must already exist.
	SubjectExists = ledger.SubjectExists
)

// Subject kinds. A subject is one traceable thing with its own chain.
const (
	SubjectBatch        = "Batch"
	SubjectProduct      = "Product"
	SubjectManufacturer = "Manufacturer"
	SubjectSupplier     = "Supplier"
)

// SubjectID uniquely identifies a subject chain.
// It consists of a kind and an instance ID.
type SubjectID struct {
	// Kind is the subject kind (e.g., "Batch", "Product").
	Kind string

	// ID is the unique identifier within the kind (e.g., "2024-ghana-17").
	ID string
}

// NewSubjectID creates a new SubjectID from kind and ID.
func NewSubjectID(kind, id string) SubjectID {
	return SubjectID{Kind: kind, ID: id}
}

// BatchSubject returns the subject ID for a cacao batch.
func BatchSubject(batchID string) SubjectID {
	return SubjectID{Kind: SubjectBatch, ID: batchID}
}

// ProductSubject returns the subject ID for a product.
func ProductSubject(productID string) SubjectID {
	return SubjectID{Kind: SubjectProduct, ID: productID}
}

// ManufacturerSubject returns the subject ID for a manufacturer.
func ManufacturerSubject(manufacturerID string) SubjectID {
	return SubjectID{Kind: SubjectManufacturer, ID: manufacturerID}
}

// SupplierSubject returns the subject ID for a supplier.
func SupplierSubject(supplierID string) SubjectID {
	return SubjectID{Kind: SubjectSupplier, ID: supplierID}
}

// ParseSubjectID parses a subject ID string in the format "Kind-ID".
// Returns an error if the format is invalid.
func ParseSubjectID(s string) (SubjectID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SubjectID{}, fmt.Errorf("cacaotrail: invalid subject ID format %q, expected 'Kind-ID'", s)
	}
	return SubjectID{Kind: parts[0], ID: parts[1]}, nil
}

// String returns the subject ID as "Kind-ID".
func (s SubjectID) String() string {
	return fmt.Sprintf("%s-%s", s.Kind, s.ID)
}

// IsZero reports whether the SubjectID is empty.
func (s SubjectID) IsZero() bool {
	return s.Kind == "" && s.ID == ""
}

// Validate checks if the SubjectID is valid.
func (s SubjectID) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("cacaotrail: subject kind is required")
	}
	if s.ID == "" {
		return fmt.Errorf("cacaotrail: subject ID is required")
	}
	return nil
}

// Event kind identifiers. The vocabulary is closed: the projector
// rejects records whose kind is not listed here.
const (
	KindBatchHarvested         = "BatchHarvested"
	KindQualityChecked         = "QualityChecked"
	KindProductComposed        = "ProductComposed"
	KindOwnershipTransferred   = "OwnershipTransferred"
	KindShipped                = "Shipped"
	KindSold                   = "Sold"
	KindManufacturerRegistered = "ManufacturerRegistered"
	KindSupplierRegistered     = "SupplierRegistered"
)

// KnownEventKinds returns the closed provenance vocabulary.
func KnownEventKinds() []string {
	return []string{
		KindBatchHarvested,
		KindQualityChecked,
		KindProductComposed,
		KindOwnershipTransferred,
		KindShipped,
		KindSold,
		KindManufacturerRegistered,
		KindSupplierRegistered,
	}
}

// IsKnownEventKind reports whether kind belongs to the vocabulary.
func IsKnownEventKind(kind string) bool {
	switch kind {
	case KindBatchHarvested, KindQualityChecked, KindProductComposed,
		KindOwnershipTransferred, KindShipped, KindSold,
		KindManufacturerRegistered, KindSupplierRegistered:
		return true
	}
	return false
}

// Metadata carries contextual information alongside an event.
// It is an alias to the ledger type so callers need only one import.
type Metadata = ledger.Metadata

// Event payloads. These are the facts recorded on subject chains;
// fields are immutable once appended.

// BatchHarvested starts a cacao batch chain.
type BatchHarvested struct {
	BatchID       string    `json:"batchId"`
	SupplierID    string    `json:"supplierId"`
	Quantity      float64   `json:"quantity"`
	Unit          string    `json:"unit"`
	HarvestDate   time.Time `json:"harvestDate"`
	Origin        string    `json:"origin,omitempty"`
	Certification string    `json:"certification,omitempty"`
}

// QualityChecked records an inspection on a batch or product chain.
type QualityChecked struct {
	Grade     string    `json:"grade"`
	Inspector string    `json:"inspector,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ProductComposed records manufacturing a product from a cacao batch.
// It is appended to the product chain; batch consumption is derived by
// the projector from these events. Name, Description, ManufacturerID
// and BatchNumber describe the product and are read from the first
// composition of each product.
type ProductComposed struct {
	ProductID      string  `json:"productId"`
	BatchID        string  `json:"batchId"`
	Quantity       float64 `json:"quantity"`
	Name           string  `json:"name,omitempty"`
	Description    string  `json:"description,omitempty"`
	ManufacturerID string  `json:"manufacturerId,omitempty"`
	BatchNumber    string  `json:"batchNumber,omitempty"`
}

// OwnershipTransferred records a change of custody.
type OwnershipTransferred struct {
	FromOwner     string    `json:"fromOwner"`
	ToOwner       string    `json:"toOwner"`
	TransferredAt time.Time `json:"transferredAt"`
}

// Shipped records a shipment leg.
type Shipped struct {
	Carrier     string    `json:"carrier,omitempty"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	ShippedAt   time.Time `json:"shippedAt"`
}

// Sold records a sale, closing the traced custody path.
type Sold struct {
	Buyer    string    `json:"buyer"`
	Price    float64   `json:"price,omitempty"`
	Currency string    `json:"currency,omitempty"`
	SoldAt   time.Time `json:"soldAt"`
}

// ManufacturerRegistered starts a manufacturer chain.
type ManufacturerRegistered struct {
	ManufacturerID string `json:"manufacturerId"`
	Name           string `json:"name"`
	Location       string `json:"location,omitempty"`
	Contact        string `json:"contact,omitempty"`
}

// SupplierRegistered starts a supplier chain.
type SupplierRegistered struct {
	SupplierID string `json:"supplierId"`
	Name       string `json:"name"`
	Region     string `json:"region,omitempty"`
	Contact    string `json:"contact,omitempty"`
}

// Event is a deserialized ledger record with its payload as a Go type.
// This is the high-level representation used by applications.
type Event struct {
	// ID is the globally unique record identifier.
	ID string

	// SubjectID identifies the chain this event belongs to.
	SubjectID string

	// Kind is the event kind identifier.
	Kind string

	// Payload is the deserialized event payload.
	Payload interface{}

	// Metadata contains contextual information.
	Metadata Metadata

	// Seq is the position within the subject chain (1-based).
	Seq int64

	// PrevHash links to the previous record's hash ("" for the first).
	PrevHash string

	// Hash is the record's own chain hash.
	Hash string

	// GlobalPosition is the position across all subjects.
	GlobalPosition uint64

	// Timestamp is when the event was appended.
	Timestamp time.Time
}

// EventFromRecord creates an Event from a stored Record with a
// deserialized payload.
func EventFromRecord(rec ledger.Record, payload interface{}) Event {
	return Event{
		ID:             rec.ID,
		SubjectID:      rec.SubjectID,
		Kind:           rec.Kind,
		Payload:        payload,
		Metadata:       rec.Metadata,
		Seq:            rec.Seq,
		PrevHash:       rec.PrevHash,
		Hash:           rec.Hash,
		GlobalPosition: rec.GlobalPosition,
		Timestamp:      rec.Timestamp,
	}
}

// Ack acknowledges a committed write.
type Ack struct {
	// SubjectID is the chain written to.
	SubjectID string

	// Seq is the chain tail after the write.
	Seq int64

	// Hash is the tail record's chain hash.
	Hash string

	// GlobalPosition is the tail record's global position.
	GlobalPosition uint64

	// Projected reports whether the materialized store was updated
	// synchronously. False means the subject was marked stale and
	// re-projection is scheduled.
	Projected bool
}
