package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/cacaotrail/cacaotrail/cli/config"
	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the ledger and read model schema",
		Long: `Generate and apply the PostgreSQL schema for the append-only ledger
and the materialized traceability view.

Examples:
  cacaotrail schema print            # Print the schema SQL
  cacaotrail schema print -o db.sql  # Write the schema to a file
  cacaotrail schema apply            # Create tables in the database`,
	}

	cmd.AddCommand(newSchemaPrintCommand())
	cmd.AddCommand(newSchemaApplyCommand())

	return cmd
}

func newSchemaPrintCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the database schema SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			schema := renderSchema(cfg)

			if output != "" {
				if err := os.WriteFile(output, []byte(schema), 0644); err != nil {
					return err
				}
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("Schema written to %s", output)))
				return nil
			}

			fmt.Println(schema)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func newSchemaApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Create the ledger and read model tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "memory" {
				fmt.Println(styles.FormatInfo("Memory driver needs no schema"))
				return nil
			}

			env, err := OpenEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Journal.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize ledger schema: %w", err)
			}
			fmt.Println(styles.FormatSuccess("Ledger schema ready"))

			if init, ok := env.Materialized.(interface {
				Initialize(context.Context) error
			}); ok {
				if err := init.Initialize(ctx); err != nil {
					return fmt.Errorf("initialize read model schema: %w", err)
				}
				fmt.Println(styles.FormatSuccess("Read model schema ready"))
			}

			return nil
		},
	}
}

// renderSchema generates the PostgreSQL schema without needing a
// database connection. The authoritative DDL lives in the postgres
// store; this mirrors it for inspection and offline review.
func renderSchema(cfg *config.Config) string {
	ls := cfg.Database.Schema
	rs := cfg.Database.ReadModelSchema

	return fmt.Sprintf(`-- Cacaotrail schema (PostgreSQL)
-- Deployment: %s

CREATE SCHEMA IF NOT EXISTS %s;

-- Append-only ledger: one chain of hash-linked records per subject.
CREATE TABLE IF NOT EXISTS %s.subjects (
    id              BIGSERIAL PRIMARY KEY,
    subject_id      VARCHAR(500) NOT NULL UNIQUE,
    kind            VARCHAR(250) NOT NULL,
    seq             BIGINT NOT NULL DEFAULT 0,
    tail_hash       VARCHAR(64) NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

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
);

CREATE INDEX IF NOT EXISTS idx_subjects_kind ON %s.subjects(kind);
CREATE INDEX IF NOT EXISTS idx_records_subject ON %s.records(subject_id, seq);
CREATE INDEX IF NOT EXISTS idx_records_kind ON %s.records(event_kind);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON %s.records(timestamp);

-- Named reader checkpoints (relay, followers).
CREATE TABLE IF NOT EXISTS %s.checkpoints (
    consumer_name   VARCHAR(500) PRIMARY KEY,
    position        BIGINT NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Chain checkpoints: tamper tripwires per subject.
CREATE TABLE IF NOT EXISTS %s.chain_checkpoints (
    subject_id      VARCHAR(500) PRIMARY KEY,
    seq             BIGINT NOT NULL,
    hash            VARCHAR(64) NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE SCHEMA IF NOT EXISTS %s;

-- Materialized traceability view, rebuildable from the ledger.
CREATE TABLE IF NOT EXISTS %s.manufacturers (
    manufacturer_id VARCHAR(255) PRIMARY KEY,
    name            VARCHAR(255) NOT NULL,
    location        VARCHAR(255) NOT NULL DEFAULT '',
    contact         VARCHAR(255) NOT NULL DEFAULT '',
    registered_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS %s.suppliers (
    supplier_id   VARCHAR(255) PRIMARY KEY,
    name          VARCHAR(255) NOT NULL,
    region        VARCHAR(255) NOT NULL DEFAULT '',
    contact       VARCHAR(255) NOT NULL DEFAULT '',
    registered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS %s.batches (
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
);

CREATE INDEX IF NOT EXISTS idx_batches_supplier ON %s.batches(supplier_id);

CREATE TABLE IF NOT EXISTS %s.products (
    product_id      VARCHAR(255) PRIMARY KEY,
    name            VARCHAR(255) NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    manufacturer_id VARCHAR(255) NOT NULL DEFAULT '',
    batch_number    VARCHAR(255) NOT NULL DEFAULT '',
    owner           VARCHAR(255) NOT NULL DEFAULT '',
    status          VARCHAR(32) NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_products_batch_number
    ON %s.products(manufacturer_id, batch_number)
    WHERE manufacturer_id <> '' AND batch_number <> '';

CREATE TABLE IF NOT EXISTS %s.composition_edges (
    product_id VARCHAR(255) NOT NULL,
    batch_id   VARCHAR(255) NOT NULL,
    quantity   DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (product_id, batch_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_batch ON %s.composition_edges(batch_id);

CREATE TABLE IF NOT EXISTS %s.projection_state (
    subject_id   VARCHAR(255) PRIMARY KEY,
    last_applied BIGINT NOT NULL DEFAULT 0,
    stale        BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		cfg.Project.Name,
		ls, ls, ls, ls, ls, ls, ls, ls, ls,
		rs, rs, rs, rs, rs, rs, rs, rs, rs, rs,
	)
}
