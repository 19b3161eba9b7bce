// Package config loads and saves the cacaotrail CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "cacaotrail.yaml"

// Duration wraps time.Duration so it round-trips through YAML in the
// "5m" / "30s" notation.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String renders the duration in Go notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the cacaotrail CLI configuration.
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Project configuration
	Project ProjectConfig `yaml:"project"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Ledger configuration
	Ledger LedgerConfig `yaml:"ledger"`

	// Verifier configuration
	Verifier VerifierConfig `yaml:"verifier"`

	// Relay configuration
	Relay RelayConfig `yaml:"relay"`
}

// ProjectConfig contains project-level settings.
type ProjectConfig struct {
	// Name of the deployment, used in metrics and relay checkpoints
	Name string `yaml:"name"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the storage driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema for the append-only ledger
	Schema string `yaml:"schema"`

	// ReadModelSchema is the schema for the materialized traceability view
	ReadModelSchema string `yaml:"read_model_schema"`
}

// LedgerConfig contains ledger behavior settings.
type LedgerConfig struct {
	// Serializer selects the payload codec (json, msgpack)
	Serializer string `yaml:"serializer"`
}

// VerifierConfig contains consistency verification settings.
type VerifierConfig struct {
	// PageSize is the number of records per verification page
	PageSize int `yaml:"page_size"`

	// Interval between background verification sweeps
	Interval Duration `yaml:"interval"`
}

// RelayConfig contains event relay settings.
type RelayConfig struct {
	// Name of the relay checkpoint
	Name string `yaml:"name"`

	// BatchSize is the maximum records per relay batch
	BatchSize int `yaml:"batch_size"`

	// PollInterval between relay polls when the ledger is idle
	PollInterval Duration `yaml:"poll_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name: "cacaotrail",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Schema:          "cacaotrail",
			ReadModelSchema: "cacaotrail",
		},
		Ledger: LedgerConfig{
			Serializer: "json",
		},
		Verifier: VerifierConfig{
			PageSize: 500,
			Interval: Duration(5 * time.Minute),
		},
		Relay: RelayConfig{
			Name:         "cacaotrail-relay",
			BatchSize:    100,
			PollInterval: Duration(time.Second),
		},
	}
}

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory.
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up.
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate returns a list of problems with the configuration.
func (c *Config) Validate() []string {
	var errors []string

	if c.Project.Name == "" {
		errors = append(errors, "project.name is required")
	}

	if c.Database.Driver == "" {
		errors = append(errors, "database.driver is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" && os.Getenv("DATABASE_URL") == "" {
		errors = append(errors, "database.url or DATABASE_URL is required for postgres driver")
	}

	if c.Ledger.Serializer != "" && c.Ledger.Serializer != "json" && c.Ledger.Serializer != "msgpack" {
		errors = append(errors, "ledger.serializer must be 'json' or 'msgpack'")
	}

	if c.Verifier.PageSize < 0 {
		errors = append(errors, "verifier.page_size must not be negative")
	}

	return errors
}

// DatabaseURL resolves the connection string, falling back to the
// DATABASE_URL environment variable.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}

// GenerateYAML renders the configuration as a commented YAML document.
func GenerateYAML(cfg *Config) string {
	return `# Cacaotrail Configuration File
# This file configures the cacaotrail CLI and its storage backends.

version: "1"

# Project settings
project:
  # Deployment name, used in relay checkpoints and metrics
  name: "` + cfg.Project.Name + `"

# Storage configuration
database:
  # Driver: postgres or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL (required for postgres, or set DATABASE_URL)
  url: "${DATABASE_URL}"

  # Schema holding the append-only ledger
  schema: "` + cfg.Database.Schema + `"

  # Schema holding the materialized traceability view
  read_model_schema: "` + cfg.Database.ReadModelSchema + `"

# Ledger behavior
ledger:
  # Payload codec: json or msgpack
  serializer: "` + cfg.Ledger.Serializer + `"

# Consistency verification
verifier:
  page_size: 500
  interval: 5m

# Event relay
relay:
  name: "` + cfg.Relay.Name + `"
  batch_size: 100
  poll_interval: 1s
`
}
