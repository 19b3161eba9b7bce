package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/cli/config"
	"github.com/cacaotrail/cacaotrail/ledger/memory"
	"github.com/cacaotrail/cacaotrail/ledger/postgres"
	msgpackser "github.com/cacaotrail/cacaotrail/serializer/msgpack"
)

// Env bundles the journal and materialized view opened from the CLI
// configuration.
type Env struct {
	Config       *config.Config
	Journal      *cacaotrail.Journal
	Materialized cacaotrail.MaterializedStore

	pg *postgres.PostgresStore
}

// Close releases any database connections held by the environment.
func (e *Env) Close() error {
	if e.pg != nil {
		return e.pg.Close()
	}
	return nil
}

// loadConfigOrDefault finds the nearest config file, falling back to
// defaults when none exists.
func loadConfigOrDefault() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	dir, cfg, err := config.FindConfig(cwd)
	if err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), cwd, nil
		}
		return nil, "", err
	}

	return cfg, dir, nil
}

// OpenEnv opens the storage backend described by cfg. The memory
// driver starts empty and only makes sense for experiments.
func OpenEnv(ctx context.Context, cfg *config.Config) (*Env, error) {
	serializer, err := buildSerializer(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case "memory":
		journal := cacaotrail.New(memory.NewStore(), cacaotrail.WithSerializer(serializer))
		return &Env{
			Config:       cfg,
			Journal:      journal,
			Materialized: cacaotrail.NewMemoryMaterializedStore(),
		}, nil

	case "postgres":
		url := cfg.DatabaseURL()
		if url == "" {
			return nil, fmt.Errorf("database.url is not set and DATABASE_URL is empty")
		}

		store, err := postgres.NewStore(url, postgres.WithSchema(cfg.Database.Schema))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		readModel := postgres.NewReadModelStore(store.DB(),
			postgres.WithReadModelSchema(cfg.Database.ReadModelSchema))

		journal := cacaotrail.New(store, cacaotrail.WithSerializer(serializer))
		return &Env{
			Config:       cfg,
			Journal:      journal,
			Materialized: readModel,
			pg:           store,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildSerializer(cfg *config.Config) (cacaotrail.Serializer, error) {
	switch cfg.Ledger.Serializer {
	case "", "json":
		return cacaotrail.NewJSONSerializer(), nil
	case "msgpack":
		return msgpackser.NewSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", cfg.Ledger.Serializer)
	}
}
