package cacaotrail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// Coordinator serializes writes per subject and keeps the materialized
// view in step with the ledger. Every command goes through the
// middleware pipeline, appends hash-chained records, then projects them
// synchronously; if projection fails the subject is marked stale and
// repaired in the background while the append stands.
type Coordinator struct {
	journal      *Journal
	materialized MaterializedStore
	projector    *Projector
	logger       Logger
	middleware   []Middleware
	submit       SubmitFunc

	locks subjectLocks

	haltedMu sync.RWMutex
	halted   map[string]error

	closed atomic.Bool
	wg     sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithCoordinatorMiddleware adds middleware to the submission pipeline.
// Middleware runs in the order it was added, after panic recovery and
// before command validation.
func WithCoordinatorMiddleware(mw ...Middleware) CoordinatorOption {
	return func(c *Coordinator) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewCoordinator creates a write coordinator over the given journal and
// materialized store.
func NewCoordinator(journal *Journal, materialized MaterializedStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		journal:      journal,
		materialized: materialized,
		logger:       NoopLogger(),
		halted:       make(map[string]error),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.projector = NewProjector(materialized,
		WithProjectorSerializer(journal.Serializer()),
		WithProjectorLogger(c.logger),
	)
	c.locks.init()

	// Recovery wraps everything so panics in middleware are caught too.
	// Validation sits innermost so no handler sees an invalid command.
	chain := []Middleware{RecoveryMiddleware()}
	chain = append(chain, c.middleware...)
	chain = append(chain, ValidationMiddleware())

	submit := c.handle
	for i := len(chain) - 1; i >= 0; i-- {
		submit = chain[i](submit)
	}
	c.submit = submit

	return c
}

// Projector returns the coordinator's projector.
func (c *Coordinator) Projector() *Projector {
	return c.projector
}

// Submit runs a command through the middleware pipeline, appends its
// events and projects them. The returned Ack identifies the subject
// tail after the append; Projected reports whether the materialized
// view reflects it yet.
func (c *Coordinator) Submit(ctx context.Context, cmd Command) (Ack, error) {
	if c.closed.Load() {
		return Ack{}, ErrCoordinatorClosed
	}
	if cmd == nil {
		return Ack{}, ErrNilCommand
	}
	return c.submit(ctx, cmd)
}

// Close waits for background projection repair to finish.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.wg.Wait()
	return nil
}

// HaltedSubjects returns subjects whose chains failed verification and
// are refusing writes, with the cause of each halt.
func (c *Coordinator) HaltedSubjects() map[string]error {
	c.haltedMu.RLock()
	defer c.haltedMu.RUnlock()
	out := make(map[string]error, len(c.halted))
	for id, err := range c.halted {
		out[id] = err
	}
	return out
}

// ResumeSubject lifts the halt on a subject after its chain has been
// repaired out of band. It fails if the chain still does not verify.
func (c *Coordinator) ResumeSubject(ctx context.Context, subject SubjectID) error {
	if err := c.journal.VerifySubject(ctx, subject); err != nil {
		return err
	}
	c.haltedMu.Lock()
	delete(c.halted, subject.String())
	c.haltedMu.Unlock()
	return nil
}

// RepairStale reprojects every subject marked stale. It is safe to run
// concurrently with writes; each subject is repaired under its lock.
func (c *Coordinator) RepairStale(ctx context.Context) error {
	stale, err := c.materialized.StaleSubjects(ctx)
	if err != nil {
		return err
	}
	for _, subjectID := range stale {
		unlock := c.locks.lock(subjectID)
		err := c.projector.ReprojectSubject(ctx, c.journal, subjectID)
		unlock()
		if err != nil {
			return fmt.Errorf("cacaotrail: repairing subject %s: %w", subjectID, err)
		}
	}
	return nil
}

// handle dispatches a validated command to its handler.
func (c *Coordinator) handle(ctx context.Context, cmd Command) (Ack, error) {
	switch cmd := cmd.(type) {
	case RegisterManufacturer:
		return c.registerManufacturer(ctx, cmd)
	case RegisterSupplier:
		return c.registerSupplier(ctx, cmd)
	case RecordHarvest:
		return c.recordHarvest(ctx, cmd)
	case QualityCheck:
		return c.qualityCheck(ctx, cmd)
	case ComposeProduct:
		return c.composeProduct(ctx, cmd)
	case TransferOwnership:
		return c.transferOwnership(ctx, cmd)
	case RecordShipment:
		return c.recordShipment(ctx, cmd)
	case RecordSale:
		return c.recordSale(ctx, cmd)
	default:
		return Ack{}, fmt.Errorf("cacaotrail: no handler for command %q", cmd.CommandName())
	}
}

func (c *Coordinator) registerManufacturer(ctx context.Context, cmd RegisterManufacturer) (Ack, error) {
	subject := ManufacturerSubject(cmd.ManufacturerID)
	unlock := c.locks.lock(subject.String())
	defer unlock()

	if err := c.checkHalted(subject); err != nil {
		return Ack{}, err
	}
	if _, err := c.materialized.GetManufacturer(ctx, cmd.ManufacturerID); err == nil {
		return Ack{}, fmt.Errorf("cacaotrail: manufacturer %s: %w", cmd.ManufacturerID, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return Ack{}, err
	}

	return c.commit(ctx, subject, NoSubject, cmd.Metadata, ManufacturerRegistered{
		ManufacturerID: cmd.ManufacturerID,
		Name:           cmd.Name,
		Location:       cmd.Location,
		Contact:        cmd.Contact,
	})
}

func (c *Coordinator) registerSupplier(ctx context.Context, cmd RegisterSupplier) (Ack, error) {
	subject := SupplierSubject(cmd.SupplierID)
	unlock := c.locks.lock(subject.String())
	defer unlock()

	if err := c.checkHalted(subject); err != nil {
		return Ack{}, err
	}
	if _, err := c.materialized.GetSupplier(ctx, cmd.SupplierID); err == nil {
		return Ack{}, fmt.Errorf("cacaotrail: supplier %s: %w", cmd.SupplierID, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return Ack{}, err
	}

	return c.commit(ctx, subject, NoSubject, cmd.Metadata, SupplierRegistered{
		SupplierID: cmd.SupplierID,
		Name:       cmd.Name,
		Region:     cmd.Region,
		Contact:    cmd.Contact,
	})
}

func (c *Coordinator) recordHarvest(ctx context.Context, cmd RecordHarvest) (Ack, error) {
	subject := BatchSubject(cmd.BatchID)
	unlock := c.locks.lock(subject.String())
	defer unlock()

	if err := c.checkHalted(subject); err != nil {
		return Ack{}, err
	}
	if _, err := c.materialized.GetSupplier(ctx, cmd.SupplierID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ack{}, fmt.Errorf("cacaotrail: supplier %s: %w", cmd.SupplierID, ErrNotFound)
		}
		return Ack{}, err
	}
	if _, err := c.materialized.GetBatch(ctx, cmd.BatchID); err == nil {
		return Ack{}, fmt.Errorf("cacaotrail: batch %s: %w", cmd.BatchID, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return Ack{}, err
	}

	return c.commit(ctx, subject, NoSubject, cmd.Metadata, BatchHarvested{
		BatchID:       cmd.BatchID,
		SupplierID:    cmd.SupplierID,
		Quantity:      cmd.Quantity,
		Unit:          cmd.Unit,
		HarvestDate:   cmd.HarvestDate,
		Origin:        cmd.Origin,
		Certification: cmd.Certification,
	})
}

func (c *Coordinator) qualityCheck(ctx context.Context, cmd QualityCheck) (Ack, error) {
	unlock := c.locks.lock(cmd.Subject.String())
	defer unlock()

	if err := c.checkHalted(cmd.Subject); err != nil {
		return Ack{}, err
	}

	return c.commit(ctx, cmd.Subject, SubjectExists, cmd.Metadata, QualityChecked{
		Grade:     cmd.Grade,
		Inspector: cmd.Inspector,
		Notes:     cmd.Notes,
		CheckedAt: cmd.CheckedAt,
	})
}

func (c *Coordinator) composeProduct(ctx context.Context, cmd ComposeProduct) (Ack, error) {
	product := ProductSubject(cmd.ProductID)
	batch := BatchSubject(cmd.BatchID)
	unlock := c.locks.lock(product.String(), batch.String())
	defer unlock()

	if err := c.checkHalted(product); err != nil {
		return Ack{}, err
	}
	if err := c.checkHalted(batch); err != nil {
		return Ack{}, err
	}

	// The conservation check below trusts the materialized Consumed
	// total. While any subject awaits projection repair that total can
	// lag behind the log, so composing then could over-allocate.
	stale, err := c.materialized.StaleSubjects(ctx)
	if err != nil {
		return Ack{}, err
	}
	if len(stale) > 0 {
		return Ack{}, fmt.Errorf("cacaotrail: projection repair pending for %d subject(s): %w",
			len(stale), ErrProjectionDrift)
	}

	b, err := c.materialized.GetBatch(ctx, cmd.BatchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ack{}, fmt.Errorf("cacaotrail: batch %s: %w", cmd.BatchID, ErrNotFound)
		}
		return Ack{}, err
	}
	if b.Consumed+cmd.Quantity > b.Quantity {
		return Ack{}, NewConsumptionExceededError(cmd.BatchID, b.Quantity, b.Consumed, cmd.Quantity)
	}

	expected := SubjectExists
	_, err = c.materialized.GetProduct(ctx, cmd.ProductID)
	switch {
	case errors.Is(err, ErrNotFound):
		// First composition creates the product and fixes its metadata.
		expected = NoSubject
		if cmd.ManufacturerID != "" {
			if _, err := c.materialized.GetManufacturer(ctx, cmd.ManufacturerID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return Ack{}, fmt.Errorf("cacaotrail: manufacturer %s: %w", cmd.ManufacturerID, ErrNotFound)
				}
				return Ack{}, err
			}
			if cmd.BatchNumber != "" {
				existing, err := c.materialized.FindProductByBatchNumber(ctx, cmd.ManufacturerID, cmd.BatchNumber)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return Ack{}, err
				}
				if existing != nil {
					return Ack{}, fmt.Errorf("cacaotrail: batch number %s already used by product %s: %w",
						cmd.BatchNumber, existing.ID, ErrAlreadyExists)
				}
			}
		}
	case err != nil:
		return Ack{}, err
	}

	return c.commit(ctx, product, expected, cmd.Metadata, ProductComposed{
		ProductID:      cmd.ProductID,
		BatchID:        cmd.BatchID,
		Quantity:       cmd.Quantity,
		Name:           cmd.Name,
		Description:    cmd.Description,
		ManufacturerID: cmd.ManufacturerID,
		BatchNumber:    cmd.BatchNumber,
	})
}

func (c *Coordinator) transferOwnership(ctx context.Context, cmd TransferOwnership) (Ack, error) {
	unlock := c.locks.lock(cmd.Subject.String())
	defer unlock()

	if err := c.checkHalted(cmd.Subject); err != nil {
		return Ack{}, err
	}
	if cmd.FromOwner != "" {
		owner, err := c.currentOwner(ctx, cmd.Subject)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Ack{}, err
		}
		if err == nil && owner != cmd.FromOwner {
			return Ack{}, NewValidationError("FromOwner",
				fmt.Sprintf("current owner is %s", owner))
		}
	}

	return c.commit(ctx, cmd.Subject, SubjectExists, cmd.Metadata, OwnershipTransferred{
		FromOwner:     cmd.FromOwner,
		ToOwner:       cmd.ToOwner,
		TransferredAt: cmd.TransferredAt,
	})
}

func (c *Coordinator) recordShipment(ctx context.Context, cmd RecordShipment) (Ack, error) {
	subject := ProductSubject(cmd.ProductID)
	unlock := c.locks.lock(subject.String())
	defer unlock()

	if err := c.checkHalted(subject); err != nil {
		return Ack{}, err
	}
	p, err := c.materialized.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ack{}, fmt.Errorf("cacaotrail: product %s: %w", cmd.ProductID, ErrNotFound)
		}
		return Ack{}, err
	}
	if p.Status == ProductStatusSold {
		return Ack{}, NewValidationError("ProductID", "product already sold")
	}

	return c.commit(ctx, subject, SubjectExists, cmd.Metadata, Shipped{
		Carrier:     cmd.Carrier,
		Origin:      cmd.Origin,
		Destination: cmd.Destination,
		ShippedAt:   cmd.ShippedAt,
	})
}

func (c *Coordinator) recordSale(ctx context.Context, cmd RecordSale) (Ack, error) {
	subject := ProductSubject(cmd.ProductID)
	unlock := c.locks.lock(subject.String())
	defer unlock()

	if err := c.checkHalted(subject); err != nil {
		return Ack{}, err
	}
	p, err := c.materialized.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ack{}, fmt.Errorf("cacaotrail: product %s: %w", cmd.ProductID, ErrNotFound)
		}
		return Ack{}, err
	}
	if p.Status == ProductStatusSold {
		return Ack{}, NewValidationError("ProductID", "product already sold")
	}

	return c.commit(ctx, subject, SubjectExists, cmd.Metadata, Sold{
		Buyer:    cmd.Buyer,
		Price:    cmd.Price,
		Currency: cmd.Currency,
		SoldAt:   cmd.SoldAt,
	})
}

// commit appends the payloads to the subject chain, records the chain
// checkpoint, and projects the new records. Must be called with the
// subject locked.
func (c *Coordinator) commit(ctx context.Context, subject SubjectID, expectedSeq int64, meta Metadata, payloads ...interface{}) (Ack, error) {
	records, err := c.journal.Append(ctx, subject, payloads,
		ExpectSeq(expectedSeq), WithAppendMetadata(meta))
	if err != nil {
		if errors.Is(err, ErrChainCorrupted) {
			return Ack{}, c.haltSubject(subject, err)
		}
		return Ack{}, err
	}

	tail := records[len(records)-1]
	ack := Ack{
		SubjectID:      subject.String(),
		Seq:            tail.Seq,
		Hash:           tail.Hash,
		GlobalPosition: tail.GlobalPosition,
		Projected:      true,
	}

	if cps, ok := c.journal.Store().(ledger.ChainCheckpointStore); ok {
		cp := &ledger.ChainCheckpoint{
			SubjectID: subject.String(),
			Seq:       tail.Seq,
			Hash:      tail.Hash,
			UpdatedAt: tail.Timestamp,
		}
		if err := cps.SetChainCheckpoint(ctx, cp); err != nil {
			c.logger.Warn("chain checkpoint not recorded",
				"subject", subject.String(), "error", err)
		}
	}

	if err := c.projector.ApplyAll(ctx, records); err != nil {
		c.logger.Error("projection failed, marking subject stale",
			"subject", subject.String(), "error", err)
		if markErr := c.materialized.MarkStale(ctx, subject.String()); markErr != nil {
			c.logger.Error("marking subject stale failed",
				"subject", subject.String(), "error", markErr)
		}
		ack.Projected = false
		c.repairAsync(subject.String())
	}

	return ack, nil
}

// repairAsync reprojects a stale subject in the background. The append
// already committed; the materialized view catches up.
func (c *Coordinator) repairAsync(subjectID string) {
	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := context.Background()
		unlock := c.locks.lock(subjectID)
		defer unlock()
		if err := c.projector.ReprojectSubject(ctx, c.journal, subjectID); err != nil {
			c.logger.Error("background projection repair failed",
				"subject", subjectID, "error", err)
		}
	}()
}

func (c *Coordinator) haltSubject(subject SubjectID, cause error) error {
	c.haltedMu.Lock()
	c.halted[subject.String()] = cause
	c.haltedMu.Unlock()
	c.logger.Error("subject halted", "subject", subject.String(), "error", cause)
	return &SubjectHaltedError{SubjectID: subject.String(), Cause: cause}
}

func (c *Coordinator) checkHalted(subject SubjectID) error {
	c.haltedMu.RLock()
	cause, ok := c.halted[subject.String()]
	c.haltedMu.RUnlock()
	if ok {
		return &SubjectHaltedError{SubjectID: subject.String(), Cause: cause}
	}
	return nil
}

func (c *Coordinator) currentOwner(ctx context.Context, subject SubjectID) (string, error) {
	switch subject.Kind {
	case SubjectBatch:
		b, err := c.materialized.GetBatch(ctx, subject.ID)
		if err != nil {
			return "", err
		}
		return b.Owner, nil
	case SubjectProduct:
		p, err := c.materialized.GetProduct(ctx, subject.ID)
		if err != nil {
			return "", err
		}
		return p.Owner, nil
	default:
		return "", fmt.Errorf("cacaotrail: subject kind %s has no owner", subject.Kind)
	}
}

// subjectLocks serializes writers per subject. Multi-subject commands
// take their locks in sorted order so writers never deadlock.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (s *subjectLocks) init() {
	s.locks = make(map[string]*sync.Mutex)
}

func (s *subjectLocks) get(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *subjectLocks) lock(ids ...string) func() {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := s.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
