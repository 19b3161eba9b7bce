package cacaotrail

import (
	"context"
	"errors"
	"fmt"
)

// Resolver answers traceability queries against the materialized view
// and the ledger. Backward tracing walks from a finished product to the
// batches and suppliers behind it; forward tracing walks from a batch
// to every product it went into.
type Resolver struct {
	journal      *Journal
	materialized MaterializedStore
}

// NewResolver creates a resolver over the journal and materialized store.
func NewResolver(journal *Journal, materialized MaterializedStore) *Resolver {
	return &Resolver{journal: journal, materialized: materialized}
}

// BatchInput is one batch consumed by a product.
type BatchInput struct {
	Batch    *CacaoBatch `json:"batch"`
	Supplier *Supplier   `json:"supplier,omitempty"`
	Quantity float64     `json:"quantity"`
}

// ProductTrace is the backward trace of a product: the product itself
// and every batch that went into it, with the suppliers behind them.
type ProductTrace struct {
	Product *Product     `json:"product"`
	Inputs  []BatchInput `json:"inputs"`
}

// ProductOutput is one product a batch was composed into.
type ProductOutput struct {
	Product  *Product `json:"product"`
	Quantity float64  `json:"quantity"`
}

// BatchTrace is the forward trace of a batch: the batch, its supplier,
// and every product it was composed into.
type BatchTrace struct {
	Batch    *CacaoBatch     `json:"batch"`
	Supplier *Supplier       `json:"supplier,omitempty"`
	Outputs  []ProductOutput `json:"outputs"`
}

// TraceBackward resolves a product to its input batches and their
// suppliers.
func (r *Resolver) TraceBackward(ctx context.Context, productID string) (*ProductTrace, error) {
	product, err := r.materialized.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("cacaotrail: product %s: %w", productID, ErrNotFound)
		}
		return nil, err
	}

	edges, err := r.materialized.EdgesByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	trace := &ProductTrace{Product: product, Inputs: make([]BatchInput, 0, len(edges))}
	for _, edge := range edges {
		batch, err := r.materialized.GetBatch(ctx, edge.BatchID)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail: resolving batch %s: %w", edge.BatchID, err)
		}
		input := BatchInput{Batch: batch, Quantity: edge.Quantity}
		if batch.SupplierID != "" {
			supplier, err := r.materialized.GetSupplier(ctx, batch.SupplierID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			input.Supplier = supplier
		}
		trace.Inputs = append(trace.Inputs, input)
	}
	return trace, nil
}

// TraceForward resolves a batch to every product it was composed into.
func (r *Resolver) TraceForward(ctx context.Context, batchID string) (*BatchTrace, error) {
	batch, err := r.materialized.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("cacaotrail: batch %s: %w", batchID, ErrNotFound)
		}
		return nil, err
	}

	trace := &BatchTrace{Batch: batch}
	if batch.SupplierID != "" {
		supplier, err := r.materialized.GetSupplier(ctx, batch.SupplierID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		trace.Supplier = supplier
	}

	edges, err := r.materialized.EdgesByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	trace.Outputs = make([]ProductOutput, 0, len(edges))
	for _, edge := range edges {
		product, err := r.materialized.GetProduct(ctx, edge.ProductID)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail: resolving product %s: %w", edge.ProductID, err)
		}
		trace.Outputs = append(trace.Outputs, ProductOutput{Product: product, Quantity: edge.Quantity})
	}
	return trace, nil
}

// History returns the full decoded event history of a subject in chain
// order, straight from the ledger.
func (r *Resolver) History(ctx context.Context, subject SubjectID) ([]Event, error) {
	return r.journal.Load(ctx, subject)
}

// AuditTrail returns decoded events across all subjects in global
// append order, starting after fromPosition. Limit bounds the page
// size; zero means the store default.
func (r *Resolver) AuditTrail(ctx context.Context, fromPosition uint64, limit int) ([]Event, error) {
	records, err := r.journal.LoadFromPosition(ctx, fromPosition, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(records))
	for _, rec := range records {
		payload, err := r.journal.Serializer().Deserialize(rec.Payload, rec.Kind)
		if err != nil {
			return nil, err
		}
		events = append(events, EventFromRecord(rec, payload))
	}
	return events, nil
}

// LookupProduct finds a product by its manufacturer batch number, the
// identifier printed on packaging.
func (r *Resolver) LookupProduct(ctx context.Context, manufacturerID, batchNumber string) (*Product, error) {
	return r.materialized.FindProductByBatchNumber(ctx, manufacturerID, batchNumber)
}
