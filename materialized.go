package cacaotrail

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manufacturer is the read-model view of a registered manufacturer.
type Manufacturer struct {
	ID           string
	Name         string
	Location     string
	Contact      string
	RegisteredAt time.Time
}

// Supplier is the read-model view of a registered supplier.
type Supplier struct {
	ID           string
	Name         string
	Region       string
	Contact      string
	RegisteredAt time.Time
}

// CacaoBatch is the read-model view of a harvested batch. Consumed
// tracks the cumulative quantity drawn by product compositions and is
// derived entirely from ProductComposed events.
type CacaoBatch struct {
	ID            string
	SupplierID    string
	Quantity      float64
	Consumed      float64
	Unit          string
	HarvestDate   time.Time
	Origin        string
	Certification string
	Grade         string
	Owner         string
}

// Remaining returns the quantity still available for composition.
func (b CacaoBatch) Remaining() float64 {
	return b.Quantity - b.Consumed
}

// Product is the read-model view of a composed product.
// BatchNumber is unique per manufacturer.
type Product struct {
	ID             string
	Name           string
	Description    string
	ManufacturerID string
	BatchNumber    string
	Owner          string
	Status         string
}

// Product status values reflect the latest custody event.
const (
	ProductStatusComposed = "Composed"
	ProductStatusShipped  = "Shipped"
	ProductStatusSold     = "Sold"
)

// CompositionEdge links a product to a cacao batch it was composed
// from. Edges are indexed in both directions.
type CompositionEdge struct {
	ProductID string
	BatchID   string
	Quantity  float64
}

// MaterializedStore is the queryable projection of the event log.
// It is derived state: it can always be discarded and rebuilt by
// replaying the ledger from position zero.
type MaterializedStore interface {
	GetManufacturer(ctx context.Context, id string) (*Manufacturer, error)
	PutManufacturer(ctx context.Context, m *Manufacturer) error
	ListManufacturers(ctx context.Context) ([]*Manufacturer, error)

	GetSupplier(ctx context.Context, id string) (*Supplier, error)
	PutSupplier(ctx context.Context, s *Supplier) error
	ListSuppliers(ctx context.Context) ([]*Supplier, error)

	GetBatch(ctx context.Context, id string) (*CacaoBatch, error)
	PutBatch(ctx context.Context, b *CacaoBatch) error
	ListBatches(ctx context.Context) ([]*CacaoBatch, error)

	GetProduct(ctx context.Context, id string) (*Product, error)
	PutProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context) ([]*Product, error)

	// FindProductByBatchNumber looks up a product by its manufacturer
	// and batch number, for the per-manufacturer uniqueness check.
	FindProductByBatchNumber(ctx context.Context, manufacturerID, batchNumber string) (*Product, error)

	// AddEdge records a product<->batch composition link.
	AddEdge(ctx context.Context, e CompositionEdge) error

	// EdgesByProduct returns composition links for a product.
	EdgesByProduct(ctx context.Context, productID string) ([]CompositionEdge, error)

	// EdgesByBatch returns composition links for a batch.
	EdgesByBatch(ctx context.Context, batchID string) ([]CompositionEdge, error)

	// LastApplied returns the highest chain seq applied for a subject,
	// or zero if nothing has been applied.
	LastApplied(ctx context.Context, subjectID string) (int64, error)

	// SetLastApplied records projection progress for a subject.
	SetLastApplied(ctx context.Context, subjectID string, seq int64) error

	// MarkStale flags a subject whose projection fell behind the log.
	MarkStale(ctx context.Context, subjectID string) error

	// ClearStale removes the staleness flag after re-projection.
	ClearStale(ctx context.Context, subjectID string) error

	// StaleSubjects returns the subjects currently flagged stale.
	StaleSubjects(ctx context.Context) ([]string, error)

	// Reset discards all projected state. Used before a full rebuild.
	Reset(ctx context.Context) error
}

// MemoryMaterializedStore is an in-memory MaterializedStore.
// It is thread-safe and suitable for tests and single-process use.
type MemoryMaterializedStore struct {
	mu            sync.RWMutex
	manufacturers map[string]*Manufacturer
	suppliers     map[string]*Supplier
	batches       map[string]*CacaoBatch
	products      map[string]*Product
	byProduct     map[string][]CompositionEdge
	byBatch       map[string][]CompositionEdge
	applied       map[string]int64
	stale         map[string]bool
}

var _ MaterializedStore = (*MemoryMaterializedStore)(nil)

// NewMemoryMaterializedStore creates an empty in-memory store.
func NewMemoryMaterializedStore() *MemoryMaterializedStore {
	s := &MemoryMaterializedStore{}
	s.reset()
	return s
}

func (s *MemoryMaterializedStore) reset() {
	s.manufacturers = make(map[string]*Manufacturer)
	s.suppliers = make(map[string]*Supplier)
	s.batches = make(map[string]*CacaoBatch)
	s.products = make(map[string]*Product)
	s.byProduct = make(map[string][]CompositionEdge)
	s.byBatch = make(map[string][]CompositionEdge)
	s.applied = make(map[string]int64)
	s.stale = make(map[string]bool)
}

// GetManufacturer returns a manufacturer by ID.
func (s *MemoryMaterializedStore) GetManufacturer(ctx context.Context, id string) (*Manufacturer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.manufacturers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

// PutManufacturer inserts or replaces a manufacturer.
func (s *MemoryMaterializedStore) PutManufacturer(ctx context.Context, m *Manufacturer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *m
	s.manufacturers[m.ID] = &stored
	return nil
}

// ListManufacturers returns all manufacturers ordered by ID.
func (s *MemoryMaterializedStore) ListManufacturers(ctx context.Context) ([]*Manufacturer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Manufacturer, 0, len(s.manufacturers))
	for _, m := range s.manufacturers {
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSupplier returns a supplier by ID.
func (s *MemoryMaterializedStore) GetSupplier(ctx context.Context, id string) (*Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.suppliers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *sup
	return &out, nil
}

// PutSupplier inserts or replaces a supplier.
func (s *MemoryMaterializedStore) PutSupplier(ctx context.Context, sup *Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *sup
	s.suppliers[sup.ID] = &stored
	return nil
}

// ListSuppliers returns all suppliers ordered by ID.
func (s *MemoryMaterializedStore) ListSuppliers(ctx context.Context) ([]*Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		c := *sup
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetBatch returns a cacao batch by ID.
func (s *MemoryMaterializedStore) GetBatch(ctx context.Context, id string) (*CacaoBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

// PutBatch inserts or replaces a cacao batch.
func (s *MemoryMaterializedStore) PutBatch(ctx context.Context, b *CacaoBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *b
	s.batches[b.ID] = &stored
	return nil
}

// ListBatches returns all batches ordered by ID.
func (s *MemoryMaterializedStore) ListBatches(ctx context.Context) ([]*CacaoBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CacaoBatch, 0, len(s.batches))
	for _, b := range s.batches {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetProduct returns a product by ID.
func (s *MemoryMaterializedStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// PutProduct inserts or replaces a product.
func (s *MemoryMaterializedStore) PutProduct(ctx context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	s.products[p.ID] = &stored
	return nil
}

// ListProducts returns all products ordered by ID.
func (s *MemoryMaterializedStore) ListProducts(ctx context.Context) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindProductByBatchNumber looks up a product by manufacturer and batch
// number.
func (s *MemoryMaterializedStore) FindProductByBatchNumber(ctx context.Context, manufacturerID, batchNumber string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.ManufacturerID == manufacturerID && p.BatchNumber == batchNumber {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// AddEdge records a composition link in both indexes. Composing the
// same batch into the same product again accumulates onto one edge.
func (s *MemoryMaterializedStore) AddEdge(ctx context.Context, e CompositionEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.byProduct[e.ProductID] {
		if existing.BatchID == e.BatchID {
			s.byProduct[e.ProductID][i].Quantity += e.Quantity
			for j, be := range s.byBatch[e.BatchID] {
				if be.ProductID == e.ProductID {
					s.byBatch[e.BatchID][j].Quantity += e.Quantity
					break
				}
			}
			return nil
		}
	}

	s.byProduct[e.ProductID] = append(s.byProduct[e.ProductID], e)
	s.byBatch[e.BatchID] = append(s.byBatch[e.BatchID], e)
	return nil
}

// EdgesByProduct returns composition links for a product in insertion
// order.
func (s *MemoryMaterializedStore) EdgesByProduct(ctx context.Context, productID string) ([]CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := s.byProduct[productID]
	out := make([]CompositionEdge, len(edges))
	copy(out, edges)
	return out, nil
}

// EdgesByBatch returns composition links for a batch in insertion order.
func (s *MemoryMaterializedStore) EdgesByBatch(ctx context.Context, batchID string) ([]CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := s.byBatch[batchID]
	out := make([]CompositionEdge, len(edges))
	copy(out, edges)
	return out, nil
}

// LastApplied returns projection progress for a subject.
func (s *MemoryMaterializedStore) LastApplied(ctx context.Context, subjectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied[subjectID], nil
}

// SetLastApplied records projection progress for a subject.
func (s *MemoryMaterializedStore) SetLastApplied(ctx context.Context, subjectID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[subjectID] = seq
	return nil
}

// MarkStale flags a subject for re-projection.
func (s *MemoryMaterializedStore) MarkStale(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[subjectID] = true
	return nil
}

// ClearStale removes the staleness flag.
func (s *MemoryMaterializedStore) ClearStale(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stale, subjectID)
	return nil
}

// StaleSubjects returns the flagged subjects ordered by ID.
func (s *MemoryMaterializedStore) StaleSubjects(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.stale))
	for id := range s.stale {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Reset discards all projected state.
func (s *MemoryMaterializedStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
