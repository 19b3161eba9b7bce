package cacaotrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Projector applies ledger records to a materialized store. Apply is
// idempotent by (subject, seq): re-applying an already-seen record is a
// no-op, so replays and at-least-once delivery are safe.
type Projector struct {
	store      MaterializedStore
	serializer Serializer
	logger     Logger
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithProjectorSerializer sets a custom payload serializer.
func WithProjectorSerializer(s Serializer) ProjectorOption {
	return func(p *Projector) {
		p.serializer = s
	}
}

// WithProjectorLogger sets a custom logger.
func WithProjectorLogger(l Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = l
	}
}

// NewProjector creates a Projector writing to the given store.
func NewProjector(store MaterializedStore, opts ...ProjectorOption) *Projector {
	p := &Projector{
		store:      store,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Store returns the projection target.
func (p *Projector) Store() MaterializedStore {
	return p.store
}

// Apply projects one record into the materialized store.
// Records must arrive in chain order per subject; a sequence gap is an
// error so the caller can schedule re-projection. Unknown event kinds
// are rejected, never skipped.
func (p *Projector) Apply(ctx context.Context, rec ledger.Record) error {
	if !IsKnownEventKind(rec.Kind) {
		return &UnknownEventKindError{Kind: rec.Kind}
	}

	last, err := p.store.LastApplied(ctx, rec.SubjectID)
	if err != nil {
		return err
	}

	if rec.Seq <= last {
		// Already applied.
		return nil
	}

	if rec.Seq != last+1 {
		return fmt.Errorf("cacaotrail: projection gap on subject %q: applied through %d, got seq %d",
			rec.SubjectID, last, rec.Seq)
	}

	payload, err := p.serializer.Deserialize(rec.Payload, rec.Kind)
	if err != nil {
		return err
	}

	if err := p.project(ctx, rec, payload); err != nil {
		return err
	}

	return p.store.SetLastApplied(ctx, rec.SubjectID, rec.Seq)
}

// ApplyAll projects records in order, stopping at the first failure.
func (p *Projector) ApplyAll(ctx context.Context, records []ledger.Record) error {
	for _, rec := range records {
		if err := p.Apply(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) project(ctx context.Context, rec ledger.Record, payload interface{}) error {
	subject, err := ParseSubjectID(rec.SubjectID)
	if err != nil {
		return err
	}

	switch e := payload.(type) {
	case BatchHarvested:
		return p.store.PutBatch(ctx, &CacaoBatch{
			ID:            e.BatchID,
			SupplierID:    e.SupplierID,
			Quantity:      e.Quantity,
			Unit:          e.Unit,
			HarvestDate:   e.HarvestDate,
			Origin:        e.Origin,
			Certification: e.Certification,
			Owner:         e.SupplierID,
		})

	case QualityChecked:
		if subject.Kind != SubjectBatch {
			// Product inspections live in history only.
			return nil
		}
		batch, err := p.store.GetBatch(ctx, subject.ID)
		if err != nil {
			return err
		}
		batch.Grade = e.Grade
		return p.store.PutBatch(ctx, batch)

	case ProductComposed:
		return p.projectComposition(ctx, subject.ID, e)

	case OwnershipTransferred:
		return p.projectOwnership(ctx, subject, e)

	case Shipped:
		if subject.Kind != SubjectProduct {
			return nil
		}
		product, err := p.store.GetProduct(ctx, subject.ID)
		if err != nil {
			return err
		}
		product.Status = ProductStatusShipped
		return p.store.PutProduct(ctx, product)

	case Sold:
		if subject.Kind != SubjectProduct {
			return nil
		}
		product, err := p.store.GetProduct(ctx, subject.ID)
		if err != nil {
			return err
		}
		product.Status = ProductStatusSold
		product.Owner = e.Buyer
		return p.store.PutProduct(ctx, product)

	case ManufacturerRegistered:
		return p.store.PutManufacturer(ctx, &Manufacturer{
			ID:           e.ManufacturerID,
			Name:         e.Name,
			Location:     e.Location,
			Contact:      e.Contact,
			RegisteredAt: rec.Timestamp,
		})

	case SupplierRegistered:
		return p.store.PutSupplier(ctx, &Supplier{
			ID:           e.SupplierID,
			Name:         e.Name,
			Region:       e.Region,
			Contact:      e.Contact,
			RegisteredAt: rec.Timestamp,
		})

	default:
		return &UnknownEventKindError{Kind: rec.Kind}
	}
}

// projectComposition upserts the product, records the edge, and draws
// down the batch. Product metadata is taken from the first composition
// and never overwritten by later ones.
func (p *Projector) projectComposition(ctx context.Context, productID string, e ProductComposed) error {
	product, err := p.store.GetProduct(ctx, productID)
	switch {
	case err == nil:
		// Existing product, metadata already set.
	case errors.Is(err, ErrNotFound):
		product = &Product{
			ID:             productID,
			Name:           e.Name,
			Description:    e.Description,
			ManufacturerID: e.ManufacturerID,
			BatchNumber:    e.BatchNumber,
			Owner:          e.ManufacturerID,
		}
	default:
		return err
	}
	product.Status = ProductStatusComposed
	if err := p.store.PutProduct(ctx, product); err != nil {
		return err
	}

	if err := p.store.AddEdge(ctx, CompositionEdge{
		ProductID: productID,
		BatchID:   e.BatchID,
		Quantity:  e.Quantity,
	}); err != nil {
		return err
	}

	batch, err := p.store.GetBatch(ctx, e.BatchID)
	if err != nil {
		return err
	}
	batch.Consumed += e.Quantity
	return p.store.PutBatch(ctx, batch)
}

func (p *Projector) projectOwnership(ctx context.Context, subject SubjectID, e OwnershipTransferred) error {
	switch subject.Kind {
	case SubjectProduct:
		product, err := p.store.GetProduct(ctx, subject.ID)
		if err != nil {
			return err
		}
		product.Owner = e.ToOwner
		return p.store.PutProduct(ctx, product)
	case SubjectBatch:
		batch, err := p.store.GetBatch(ctx, subject.ID)
		if err != nil {
			return err
		}
		batch.Owner = e.ToOwner
		return p.store.PutBatch(ctx, batch)
	default:
		return nil
	}
}

// ReprojectSubject catches a subject's projection up to the chain tail.
// Used for staleness recovery after a failed synchronous projection.
func (p *Projector) ReprojectSubject(ctx context.Context, journal *Journal, subjectID string) error {
	last, err := p.store.LastApplied(ctx, subjectID)
	if err != nil {
		return err
	}

	records, err := journal.Store().Load(ctx, subjectID, last)
	if err != nil {
		return err
	}

	if err := p.ApplyAll(ctx, records); err != nil {
		return err
	}

	return p.store.ClearStale(ctx, subjectID)
}

// Rebuild discards the materialized store and replays the entire ledger
// in global order. The result is deterministic: the same log always
// produces the same store.
func (p *Projector) Rebuild(ctx context.Context, journal *Journal) error {
	if err := p.store.Reset(ctx); err != nil {
		return err
	}

	const pageSize = 500
	var position uint64

	for {
		records, err := journal.LoadFromPosition(ctx, position, pageSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			if err := p.Apply(ctx, rec); err != nil {
				return err
			}
			position = rec.GlobalPosition
		}

		p.logger.Debug("rebuild progress", "position", position)
	}
}
