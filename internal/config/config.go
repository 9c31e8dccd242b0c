// Package config holds the analyzer configuration loaded from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all merge-analyzer configuration.
type Config struct {
	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Package ingestion settings
	Ingest IngestConfig `yaml:"ingest"`

	// Analysis pipeline settings
	Analysis AnalysisConfig `yaml:"analysis"`

	// Diff rendering settings
	Diff DiffConfig `yaml:"diff"`
}

// StorageConfig configures the SQLite session store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// IngestConfig configures package reading.
type IngestConfig struct {
	// Maximum accepted package size in bytes
	MaxPackageSize int64 `yaml:"max_package_size"`
}

// AnalysisConfig configures the orchestrator.
type AnalysisConfig struct {
	// Wall-clock budget per pipeline step
	StepTimeout string `yaml:"step_timeout"`

	// Path to the frozen SAIL system-rule mapping asset. Empty uses the
	// compiled-in table.
	MappingTablePath string `yaml:"mapping_table_path"`
}

// DiffConfig configures unified-diff generation.
type DiffConfig struct {
	ContextLines int `yaml:"context_lines"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: "data/appmerge.db",
		},
		Ingest: IngestConfig{
			MaxPackageSize: 100 * 1024 * 1024,
		},
		Analysis: AnalysisConfig{
			StepTimeout: "5m",
		},
		Diff: DiffConfig{
			ContextLines: 3,
		},
	}
}

// Load loads configuration from a YAML file. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("APPMERGE_DB"); p != "" {
		c.Storage.DatabasePath = p
	}
	if p := os.Getenv("APPMERGE_MAPPING_TABLE"); p != "" {
		c.Analysis.MappingTablePath = p
	}
}

// StepTimeout parses the configured per-step budget, falling back to the
// 5 minute default on bad input.
func (c *Config) StepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Analysis.StepTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
