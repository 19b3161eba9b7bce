package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/cli/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()

		cmd := NewInitCommand()
		cmd.SetArgs([]string{dir, "--driver=memory", "--name=test-trail"})
		require.NoError(t, cmd.Execute())

		require.True(t, config.Exists(dir))
		cfg, err := config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "test-trail", cfg.Project.Name)
		assert.Equal(t, "memory", cfg.Database.Driver)
	})

	t.Run("does not overwrite existing config", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.Project.Name = "keep-me"
		require.NoError(t, cfg.Save(dir))

		cmd := NewInitCommand()
		cmd.SetArgs([]string{dir, "--name=clobber"})
		require.NoError(t, cmd.Execute())

		loaded, err := config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "keep-me", loaded.Project.Name)
	})
}

func TestRenderSchema(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Schema = "trail_ledger"
	cfg.Database.ReadModelSchema = "trail_view"

	sql := renderSchema(cfg)

	assert.Contains(t, sql, "CREATE SCHEMA IF NOT EXISTS trail_ledger")
	assert.Contains(t, sql, "trail_ledger.records")
	assert.Contains(t, sql, "trail_ledger.chain_checkpoints")
	assert.Contains(t, sql, "trail_view.batches")
	assert.Contains(t, sql, "trail_view.composition_edges")
	assert.Contains(t, sql, "trail_view.projection_state")
	assert.NotContains(t, sql, "%!s")
	assert.NotContains(t, sql, "%s")
}

func TestOpenEnvMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"

	env, err := OpenEnv(context.Background(), cfg)
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Journal)
	require.NotNil(t, env.Materialized)

	// The memory environment is fully usable for writes.
	coord := cacaotrail.NewCoordinator(env.Journal, env.Materialized)
	defer coord.Close()

	_, err = coord.Submit(context.Background(), cacaotrail.RegisterSupplier{
		SupplierID: "sup-1",
		Name:       "Finca Esperanza",
		Region:     "Huila",
	})
	require.NoError(t, err)

	sup, err := env.Materialized.GetSupplier(context.Background(), "sup-1")
	require.NoError(t, err)
	assert.Equal(t, "Finca Esperanza", sup.Name)
}

func TestOpenEnvRejectsUnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "cassandra"

	_, err := OpenEnv(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestOpenEnvPostgresNeedsURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.URL = ""

	_, err := OpenEnv(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildSerializer(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		cfg := config.DefaultConfig()
		cfg.Ledger.Serializer = name
		s, err := buildSerializer(cfg)
		require.NoError(t, err, name)
		require.NotNil(t, s, name)
	}

	cfg := config.DefaultConfig()
	cfg.Ledger.Serializer = "xml"
	_, err := buildSerializer(cfg)
	require.Error(t, err)
}

func TestVerifyCommandMemory(t *testing.T) {
	// An empty memory ledger verifies clean.
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	require.NoError(t, cfg.Save(dir))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	cmd := NewVerifyCommand()
	cmd.SetArgs([]string{})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())
}

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"init", "schema", "verify", "trace", "history", "projection", "diagnose", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abcdef123456", shortHash("abcdef1234567890"))
	assert.Equal(t, "abc", shortHash("abc"))
}

func TestLoadConfigOrDefaultFallsBack(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	cfg, foundDir, err := loadConfigOrDefault()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.NotEmpty(t, foundDir)
}

func TestConfigRoundTripThroughInit(t *testing.T) {
	dir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetArgs([]string{filepath.Join(dir, "nested"), "--driver=memory"})
	require.NoError(t, cmd.Execute())

	cfg, err := config.Load(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Equal(t, "nested", cfg.Project.Name)
	assert.Equal(t, config.Duration(5*time.Minute), cfg.Verifier.Interval)
}
