package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cacaotrail/cacaotrail"
)

var _ cacaotrail.MaterializedStore = (*ReadModelStore)(nil)

// ReadModelStore is a PostgreSQL implementation of the materialized
// view. It is a projection of the ledger, never a source of truth: any
// row can be dropped and rebuilt by replaying the log.
type ReadModelStore struct {
	db     *sql.DB
	schema string
}

// ReadModelOption configures a ReadModelStore.
type ReadModelOption func(*ReadModelStore)

// WithReadModelSchema sets the database schema name.
func WithReadModelSchema(schema string) ReadModelOption {
	return func(s *ReadModelStore) {
		s.schema = schema
	}
}

// NewReadModelStore creates a materialized store over an existing
// database handle, typically the same one the ledger store uses.
func NewReadModelStore(db *sql.DB, opts ...ReadModelOption) *ReadModelStore {
	s := &ReadModelStore{
		db:     db,
		schema: "cacaotrail",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates the read model tables.
func (s *ReadModelStore) Initialize(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.manufacturers (
			manufacturer_id VARCHAR(255) PRIMARY KEY,
			name            VARCHAR(255) NOT NULL,
			location        VARCHAR(255) NOT NULL DEFAULT '',
			contact         VARCHAR(255) NOT NULL DEFAULT '',
			registered_at   TIMESTAMPTZ NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.suppliers (
			supplier_id   VARCHAR(255) PRIMARY KEY,
			name          VARCHAR(255) NOT NULL,
			region        VARCHAR(255) NOT NULL DEFAULT '',
			contact       VARCHAR(255) NOT NULL DEFAULT '',
			registered_at TIMESTAMPTZ NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.batches (
			batch_id      VARCHAR(255) PRIMARY KEY,
			supplier_id   VARCHAR(255) NOT NULL,
			quantity      DOUBLE PRECISION NOT NULL,
			consumed      DOUBLE PRECISION NOT NULL DEFAULT 0,
			unit          VARCHAR(32) NOT NULL,
			harvest_date  TIMESTAMPTZ NOT NULL,
			origin        VARCHAR(255) NOT NULL DEFAULT '',
			certification VARCHAR(255) NOT NULL DEFAULT '',
			grade         VARCHAR(64) NOT NULL DEFAULT '',
			owner         VARCHAR(255) NOT NULL DEFAULT ''
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_batches_supplier
			ON %s.batches(supplier_id)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.products (
			product_id      VARCHAR(255) PRIMARY KEY,
			name            VARCHAR(255) NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			manufacturer_id VARCHAR(255) NOT NULL DEFAULT '',
			batch_number    VARCHAR(255) NOT NULL DEFAULT '',
			owner           VARCHAR(255) NOT NULL DEFAULT '',
			status          VARCHAR(32) NOT NULL DEFAULT ''
		)`, s.schema),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_products_batch_number
			ON %s.products(manufacturer_id, batch_number)
			WHERE manufacturer_id <> '' AND batch_number <> ''`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.composition_edges (
			product_id VARCHAR(255) NOT NULL,
			batch_id   VARCHAR(255) NOT NULL,
			quantity   DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (product_id, batch_id)
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_edges_batch
			ON %s.composition_edges(batch_id)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.projection_state (
			subject_id   VARCHAR(255) PRIMARY KEY,
			last_applied BIGINT NOT NULL DEFAULT 0,
			stale        BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.schema),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cacaotrail: initializing read model: %w", err)
		}
	}
	return nil
}

// GetManufacturer returns a manufacturer by ID.
func (s *ReadModelStore) GetManufacturer(ctx context.Context, id string) (*cacaotrail.Manufacturer, error) {
	query := fmt.Sprintf(`SELECT manufacturer_id, name, location, contact, registered_at
		FROM %s.manufacturers WHERE manufacturer_id = $1`, s.schema)

	var m cacaotrail.Manufacturer
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&m.ID, &m.Name, &m.Location, &m.Contact, &m.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cacaotrail: manufacturer %s: %w", id, cacaotrail.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PutManufacturer upserts a manufacturer.
func (s *ReadModelStore) PutManufacturer(ctx context.Context, m *cacaotrail.Manufacturer) error {
	query := fmt.Sprintf(`INSERT INTO %s.manufacturers
		(manufacturer_id, name, location, contact, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (manufacturer_id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			contact = EXCLUDED.contact,
			registered_at = EXCLUDED.registered_at`, s.schema)
	_, err := s.db.ExecContext(ctx, query, m.ID, m.Name, m.Location, m.Contact, m.RegisteredAt)
	return err
}

// ListManufacturers returns all manufacturers ordered by ID.
func (s *ReadModelStore) ListManufacturers(ctx context.Context) ([]*cacaotrail.Manufacturer, error) {
	query := fmt.Sprintf(`SELECT manufacturer_id, name, location, contact, registered_at
		FROM %s.manufacturers ORDER BY manufacturer_id`, s.schema)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cacaotrail.Manufacturer
	for rows.Next() {
		var m cacaotrail.Manufacturer
		if err := rows.Scan(&m.ID, &m.Name, &m.Location, &m.Contact, &m.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// GetSupplier returns a supplier by ID.
func (s *ReadModelStore) GetSupplier(ctx context.Context, id string) (*cacaotrail.Supplier, error) {
	query := fmt.Sprintf(`SELECT supplier_id, name, region, contact, registered_at
		FROM %s.suppliers WHERE supplier_id = $1`, s.schema)

	var sup cacaotrail.Supplier
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&sup.ID, &sup.Name, &sup.Region, &sup.Contact, &sup.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cacaotrail: supplier %s: %w", id, cacaotrail.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sup, nil
}

// PutSupplier upserts a supplier.
func (s *ReadModelStore) PutSupplier(ctx context.Context, sup *cacaotrail.Supplier) error {
	query := fmt.Sprintf(`INSERT INTO %s.suppliers
		(supplier_id, name, region, contact, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (supplier_id) DO UPDATE SET
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			contact = EXCLUDED.contact,
			registered_at = EXCLUDED.registered_at`, s.schema)
	_, err := s.db.ExecContext(ctx, query, sup.ID, sup.Name, sup.Region, sup.Contact, sup.RegisteredAt)
	return err
}

// ListSuppliers returns all suppliers ordered by ID.
func (s *ReadModelStore) ListSuppliers(ctx context.Context) ([]*cacaotrail.Supplier, error) {
	query := fmt.Sprintf(`SELECT supplier_id, name, region, contact, registered_at
		FROM %s.suppliers ORDER BY supplier_id`, s.schema)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cacaotrail.Supplier
	for rows.Next() {
		var sup cacaotrail.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Region, &sup.Contact, &sup.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, &sup)
	}
	return out, rows.Err()
}

// GetBatch returns a cacao batch by ID.
func (s *ReadModelStore) GetBatch(ctx context.Context, id string) (*cacaotrail.CacaoBatch, error) {
	query := fmt.Sprintf(`SELECT batch_id, supplier_id, quantity, consumed, unit,
		harvest_date, origin, certification, grade, owner
		FROM %s.batches WHERE batch_id = $1`, s.schema)

	var b cacaotrail.CacaoBatch
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&b.ID, &b.SupplierID, &b.Quantity, &b.Consumed, &b.Unit,
			&b.HarvestDate, &b.Origin, &b.Certification, &b.Grade, &b.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cacaotrail: batch %s: %w", id, cacaotrail.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBatch upserts a cacao batch.
func (s *ReadModelStore) PutBatch(ctx context.Context, b *cacaotrail.CacaoBatch) error {
	query := fmt.Sprintf(`INSERT INTO %s.batches
		(batch_id, supplier_id, quantity, consumed, unit, harvest_date, origin, certification, grade, owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (batch_id) DO UPDATE SET
			supplier_id = EXCLUDED.supplier_id,
			quantity = EXCLUDED.quantity,
			consumed = EXCLUDED.consumed,
			unit = EXCLUDED.unit,
			harvest_date = EXCLUDED.harvest_date,
			origin = EXCLUDED.origin,
			certification = EXCLUDED.certification,
			grade = EXCLUDED.grade,
			owner = EXCLUDED.owner`, s.schema)
	_, err := s.db.ExecContext(ctx, query, b.ID, b.SupplierID, b.Quantity, b.Consumed,
		b.Unit, b.HarvestDate, b.Origin, b.Certification, b.Grade, b.Owner)
	return err
}

// ListBatches returns all batches ordered by ID.
func (s *ReadModelStore) ListBatches(ctx context.Context) ([]*cacaotrail.CacaoBatch, error) {
	query := fmt.Sprintf(`SELECT batch_id, supplier_id, quantity, consumed, unit,
		harvest_date, origin, certification, grade, owner
		FROM %s.batches ORDER BY batch_id`, s.schema)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cacaotrail.CacaoBatch
	for rows.Next() {
		var b cacaotrail.CacaoBatch
		if err := rows.Scan(&b.ID, &b.SupplierID, &b.Quantity, &b.Consumed, &b.Unit,
			&b.HarvestDate, &b.Origin, &b.Certification, &b.Grade, &b.Owner); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// GetProduct returns a product by ID.
func (s *ReadModelStore) GetProduct(ctx context.Context, id string) (*cacaotrail.Product, error) {
	query := fmt.Sprintf(`SELECT product_id, name, description, manufacturer_id, batch_number, owner, status
		FROM %s.products WHERE product_id = $1`, s.schema)

	var p cacaotrail.Product
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.ManufacturerID, &p.BatchNumber, &p.Owner, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cacaotrail: product %s: %w", id, cacaotrail.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProduct upserts a product.
func (s *ReadModelStore) PutProduct(ctx context.Context, p *cacaotrail.Product) error {
	query := fmt.Sprintf(`INSERT INTO %s.products
		(product_id, name, description, manufacturer_id, batch_number, owner, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			manufacturer_id = EXCLUDED.manufacturer_id,
			batch_number = EXCLUDED.batch_number,
			owner = EXCLUDED.owner,
			status = EXCLUDED.status`, s.schema)
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Description,
		p.ManufacturerID, p.BatchNumber, p.Owner, p.Status)
	return err
}

// ListProducts returns all products ordered by ID.
func (s *ReadModelStore) ListProducts(ctx context.Context) ([]*cacaotrail.Product, error) {
	query := fmt.Sprintf(`SELECT product_id, name, description, manufacturer_id, batch_number, owner, status
		FROM %s.products ORDER BY product_id`, s.schema)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cacaotrail.Product
	for rows.Next() {
		var p cacaotrail.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ManufacturerID,
			&p.BatchNumber, &p.Owner, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// FindProductByBatchNumber returns the product carrying a manufacturer
// batch number, or ErrNotFound.
func (s *ReadModelStore) FindProductByBatchNumber(ctx context.Context, manufacturerID, batchNumber string) (*cacaotrail.Product, error) {
	query := fmt.Sprintf(`SELECT product_id, name, description, manufacturer_id, batch_number, owner, status
		FROM %s.products WHERE manufacturer_id = $1 AND batch_number = $2`, s.schema)

	var p cacaotrail.Product
	err := s.db.QueryRowContext(ctx, query, manufacturerID, batchNumber).
		Scan(&p.ID, &p.Name, &p.Description, &p.ManufacturerID, &p.BatchNumber, &p.Owner, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cacaotrail: batch number %s/%s: %w",
			manufacturerID, batchNumber, cacaotrail.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddEdge upserts a composition edge. Composing the same batch into
// the same product again accumulates onto the existing row.
func (s *ReadModelStore) AddEdge(ctx context.Context, e cacaotrail.CompositionEdge) error {
	query := fmt.Sprintf(`INSERT INTO %s.composition_edges (product_id, batch_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, batch_id) DO UPDATE SET
			quantity = %s.composition_edges.quantity + EXCLUDED.quantity`, s.schema, s.schema)
	_, err := s.db.ExecContext(ctx, query, e.ProductID, e.BatchID, e.Quantity)
	return err
}

// EdgesByProduct returns the batches composed into a product.
func (s *ReadModelStore) EdgesByProduct(ctx context.Context, productID string) ([]cacaotrail.CompositionEdge, error) {
	query := fmt.Sprintf(`SELECT product_id, batch_id, quantity
		FROM %s.composition_edges WHERE product_id = $1 ORDER BY batch_id`, s.schema)
	return s.queryEdges(ctx, query, productID)
}

// EdgesByBatch returns the products a batch was composed into.
func (s *ReadModelStore) EdgesByBatch(ctx context.Context, batchID string) ([]cacaotrail.CompositionEdge, error) {
	query := fmt.Sprintf(`SELECT product_id, batch_id, quantity
		FROM %s.composition_edges WHERE batch_id = $1 ORDER BY product_id`, s.schema)
	return s.queryEdges(ctx, query, batchID)
}

func (s *ReadModelStore) queryEdges(ctx context.Context, query, arg string) ([]cacaotrail.CompositionEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cacaotrail.CompositionEdge
	for rows.Next() {
		var e cacaotrail.CompositionEdge
		if err := rows.Scan(&e.ProductID, &e.BatchID, &e.Quantity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastApplied returns the last projected seq for a subject, zero when
// the subject has never been projected.
func (s *ReadModelStore) LastApplied(ctx context.Context, subjectID string) (int64, error) {
	query := fmt.Sprintf(`SELECT last_applied FROM %s.projection_state
		WHERE subject_id = $1`, s.schema)

	var seq int64
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// SetLastApplied records the last projected seq for a subject.
func (s *ReadModelStore) SetLastApplied(ctx context.Context, subjectID string, seq int64) error {
	query := fmt.Sprintf(`INSERT INTO %s.projection_state (subject_id, last_applied, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subject_id) DO UPDATE SET
			last_applied = EXCLUDED.last_applied,
			updated_at = NOW()`, s.schema)
	_, err := s.db.ExecContext(ctx, query, subjectID, seq)
	return err
}

// MarkStale flags a subject as needing reprojection.
func (s *ReadModelStore) MarkStale(ctx context.Context, subjectID string) error {
	query := fmt.Sprintf(`INSERT INTO %s.projection_state (subject_id, stale, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (subject_id) DO UPDATE SET
			stale = TRUE,
			updated_at = NOW()`, s.schema)
	_, err := s.db.ExecContext(ctx, query, subjectID)
	return err
}

// ClearStale removes the stale flag for a subject.
func (s *ReadModelStore) ClearStale(ctx context.Context, subjectID string) error {
	query := fmt.Sprintf(`UPDATE %s.projection_state SET stale = FALSE, updated_at = NOW()
		WHERE subject_id = $1`, s.schema)
	_, err := s.db.ExecContext(ctx, query, subjectID)
	return err
}

// StaleSubjects returns all subjects flagged stale.
func (s *ReadModelStore) StaleSubjects(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT subject_id FROM %s.projection_state
		WHERE stale ORDER BY subject_id`, s.schema)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Reset truncates every read model table ahead of a full rebuild.
func (s *ReadModelStore) Reset(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE %s.manufacturers, %s.suppliers, %s.batches,
		%s.products, %s.composition_edges, %s.projection_state`,
		s.schema, s.schema, s.schema, s.schema, s.schema, s.schema)
	_, err := s.db.ExecContext(ctx, query)
	return err
}
