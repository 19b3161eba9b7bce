// Package postgres provides a PostgreSQL implementation of the ledger store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Sequence constants for optimistic concurrency control.
// These are aliases to the ledger package constants.
const (
	AnySeq        = ledger.AnySeq
	NoSubject     = ledger.NoSubject
	SubjectExists = ledger.SubjectExists
)

// Sentinel errors for the postgres store.
// These are aliases to the ledger package errors for compatibility with errors.Is().
var (
	ErrStoreClosed     = ledger.ErrStoreClosed
	ErrEmptySubjectID  = ledger.ErrEmptySubjectID
	ErrNoEvents        = ledger.ErrNoEvents
	ErrChainConflict   = ledger.ErrChainConflict
	ErrSubjectNotFound = ledger.ErrSubjectNotFound
	ErrInvalidSeq      = ledger.ErrInvalidSeq
)

// Ensure PostgresStore implements required interfaces.
var (
	_ ledger.Store                = (*PostgresStore)(nil)
	_ ledger.CheckpointStore      = (*PostgresStore)(nil)
	_ ledger.ChainCheckpointStore = (*PostgresStore)(nil)
	_ ledger.HealthChecker        = (*PostgresStore)(nil)
)

// PostgresStore is a PostgreSQL implementation of ledger.Store.
// The hash chain is computed inside the append transaction so the
// stored prev_hash/hash columns always reflect committed order.
type PostgresStore struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(s *PostgresStore) {
		s.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(s *PostgresStore) {
		s.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(s *PostgresStore) {
		s.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(s *PostgresStore) {
		s.db.SetConnMaxLifetime(d)
	}
}

// NewStore creates a new PostgreSQL ledger store.
func NewStore(connStr string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to open database: %w", err)
	}

	store := &PostgresStore{
		db:     db,
		schema: "cacaotrail",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// NewStoreWithDB creates a new store with an existing database connection.
func NewStoreWithDB(db *sql.DB, opts ...Option) *PostgresStore {
	store := &PostgresStore{
		db:     db,
		schema: "cacaotrail",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Initialize creates the required database schema and tables.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema))
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create schema: %w", err)
	}

	subjectsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.subjects (
			id              BIGSERIAL PRIMARY KEY,
			subject_id      VARCHAR(500) NOT NULL UNIQUE,
			kind            VARCHAR(250) NOT NULL,
			seq             BIGINT NOT NULL DEFAULT 0,
			tail_hash       VARCHAR(64) NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, subjectsSQL)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create subjects table: %w", err)
	}

	recordsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.records (
			global_position BIGSERIAL PRIMARY KEY,
			subject_id      VARCHAR(500) NOT NULL,
			seq             BIGINT NOT NULL,
			record_id       UUID NOT NULL DEFAULT gen_random_uuid(),
			event_kind      VARCHAR(500) NOT NULL,
			payload         BYTEA NOT NULL,
			prev_hash       VARCHAR(64) NOT NULL,
			hash            VARCHAR(64) NOT NULL,
			metadata        JSONB,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(subject_id, seq)
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, recordsSQL)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create records table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_subjects_kind ON %s.subjects(kind)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_records_subject ON %s.records(subject_id, seq)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_records_kind ON %s.records(event_kind)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_records_timestamp ON %s.records(timestamp)`, s.schema),
	}

	for _, idx := range indexes {
		_, err = s.db.ExecContext(ctx, idx)
		if err != nil {
			return fmt.Errorf("cacaotrail/postgres: failed to create index: %w", err)
		}
	}

	checkpointsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.checkpoints (
			consumer_name   VARCHAR(500) PRIMARY KEY,
			position        BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, checkpointsSQL)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create checkpoints table: %w", err)
	}

	chainCheckpointsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.chain_checkpoints (
			subject_id      VARCHAR(500) PRIMARY KEY,
			seq             BIGINT NOT NULL,
			hash            VARCHAR(64) NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, chainCheckpointsSQL)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create chain_checkpoints table: %w", err)
	}

	return nil
}

// Append stores events at the tail of the subject chain with optimistic
// concurrency control. The subject row is locked FOR UPDATE so hash
// computation sees a stable tail.
func (s *PostgresStore) Append(ctx context.Context, subjectID string, events []ledger.EventDraft, expectedSeq int64) ([]ledger.Record, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	if subjectID == "" {
		return nil, ErrEmptySubjectID
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentSeq int64
	var prevHash string
	var subjectFound bool

	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT seq, tail_hash FROM %s.subjects
		WHERE subject_id = $1
		FOR UPDATE`, s.schema), subjectID).Scan(&currentSeq, &prevHash)

	if err == sql.ErrNoRows {
		subjectFound = false
		currentSeq = 0
		prevHash = ""
	} else if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to get subject tail: %w", err)
	} else {
		subjectFound = true
	}

	if err := ledger.CheckSeq(subjectID, expectedSeq, currentSeq, subjectFound); err != nil {
		return nil, err
	}

	if !subjectFound {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.subjects (subject_id, kind, seq)
			VALUES ($1, $2, 0)`, s.schema), subjectID, ledger.ExtractKind(subjectID))
		if err != nil {
			return nil, fmt.Errorf("cacaotrail/postgres: failed to create subject: %w", err)
		}
	}

	stored := make([]ledger.Record, len(events))
	for i, event := range events {
		currentSeq++
		hash := ledger.ChainHash(prevHash, currentSeq, event.Kind, event.Payload)

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail/postgres: failed to marshal metadata: %w", err)
		}

		var globalPosition uint64
		var recordID string
		var timestamp time.Time

		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.records (subject_id, seq, event_kind, payload, prev_hash, hash, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING global_position, record_id, timestamp`, s.schema),
			subjectID, currentSeq, event.Kind, event.Payload, prevHash, hash, metadataJSON,
		).Scan(&globalPosition, &recordID, &timestamp)

		if err != nil {
			return nil, fmt.Errorf("cacaotrail/postgres: failed to insert record: %w", err)
		}

		stored[i] = ledger.Record{
			ID:             recordID,
			SubjectID:      subjectID,
			Seq:            currentSeq,
			Kind:           event.Kind,
			Payload:        event.Payload,
			PrevHash:       prevHash,
			Hash:           hash,
			GlobalPosition: globalPosition,
			Timestamp:      timestamp,
			Metadata:       event.Metadata,
		}
		prevHash = hash
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.subjects
		SET seq = $1, tail_hash = $2, updated_at = NOW()
		WHERE subject_id = $3`, s.schema), currentSeq, prevHash, subjectID)
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to update subject tail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to commit transaction: %w", err)
	}

	return stored, nil
}

// Load retrieves all records for a subject with Seq greater than fromSeq.
func (s *PostgresStore) Load(ctx context.Context, subjectID string, fromSeq int64) ([]ledger.Record, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	if subjectID == "" {
		return nil, ErrEmptySubjectID
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, record_id, subject_id, seq, event_kind, payload, prev_hash, hash, metadata, timestamp
		FROM %s.records
		WHERE subject_id = $1 AND seq > $2
		ORDER BY seq`, s.schema), subjectID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to load records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LoadFromPosition retrieves records across all subjects in global order.
func (s *PostgresStore) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]ledger.Record, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, record_id, subject_id, seq, event_kind, payload, prev_hash, hash, metadata, timestamp
		FROM %s.records
		WHERE global_position > $1
		ORDER BY global_position
		LIMIT $2`, s.schema), fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to load records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]ledger.Record, error) {
	records := make([]ledger.Record, 0)
	for rows.Next() {
		var rec ledger.Record
		var metadataJSON []byte

		err := rows.Scan(
			&rec.GlobalPosition,
			&rec.ID,
			&rec.SubjectID,
			&rec.Seq,
			&rec.Kind,
			&rec.Payload,
			&rec.PrevHash,
			&rec.Hash,
			&metadataJSON,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("cacaotrail/postgres: failed to scan record: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("cacaotrail/postgres: failed to unmarshal metadata: %w", err)
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: error iterating records: %w", err)
	}

	return records, nil
}

// GetSubjectInfo returns chain metadata for a subject.
func (s *PostgresStore) GetSubjectInfo(ctx context.Context, subjectID string) (*ledger.SubjectInfo, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	var info ledger.SubjectInfo
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT s.subject_id, s.kind, s.seq, s.tail_hash, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM %s.records r WHERE r.subject_id = s.subject_id)
		FROM %s.subjects s
		WHERE s.subject_id = $1`, s.schema, s.schema), subjectID).Scan(
		&info.SubjectID,
		&info.Kind,
		&info.Seq,
		&info.TailHash,
		&info.CreatedAt,
		&info.UpdatedAt,
		&info.EventCount,
	)

	if err == sql.ErrNoRows {
		return nil, ledger.NewSubjectNotFoundError(subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to get subject info: %w", err)
	}

	return &info, nil
}

// GetLastPosition returns the global position of the last stored record.
func (s *PostgresStore) GetLastPosition(ctx context.Context) (uint64, error) {
	if s.closed {
		return 0, ErrStoreClosed
	}

	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_position) FROM %s.records`, s.schema)).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("cacaotrail/postgres: failed to get last position: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// Close releases the database connection.
func (s *PostgresStore) Close() error {
	s.closed = true
	return s.db.Close()
}

// GetCheckpoint returns the last processed position for a consumer.
func (s *PostgresStore) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if s.closed {
		return 0, ErrStoreClosed
	}

	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints
		WHERE consumer_name = $1`, s.schema), name).Scan(&pos)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cacaotrail/postgres: failed to get checkpoint: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// SetCheckpoint stores the last processed position for a consumer.
func (s *PostgresStore) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (consumer_name, position)
		VALUES ($1, $2)
		ON CONFLICT (consumer_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, s.schema), name, position)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to set checkpoint: %w", err)
	}

	return nil
}

// GetChainCheckpoint returns the verified tail checkpoint for a subject.
func (s *PostgresStore) GetChainCheckpoint(ctx context.Context, subjectID string) (*ledger.ChainCheckpoint, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	var cp ledger.ChainCheckpoint
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT subject_id, seq, hash, updated_at
		FROM %s.chain_checkpoints
		WHERE subject_id = $1`, s.schema), subjectID).Scan(
		&cp.SubjectID,
		&cp.Seq,
		&cp.Hash,
		&cp.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cacaotrail/postgres: failed to get chain checkpoint: %w", err)
	}

	return &cp, nil
}

// SetChainCheckpoint stores the verified tail checkpoint for a subject.
func (s *PostgresStore) SetChainCheckpoint(ctx context.Context, cp *ledger.ChainCheckpoint) error {
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.chain_checkpoints (subject_id, seq, hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE SET
			seq = EXCLUDED.seq,
			hash = EXCLUDED.hash,
			updated_at = NOW()`, s.schema), cp.SubjectID, cp.Seq, cp.Hash)
	if err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to set chain checkpoint: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Schema returns the schema name.
func (s *PostgresStore) Schema() string {
	return s.schema
}
