// Package config manages swivel configuration and the .swivel directory
// structure. It handles loading, saving, and initializing the migration
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/pelletier/go-toml/v2"
)

const (
	SwivelDir  = ".swivel"
	ConfigFile = "config"
	MetaFile   = "meta.db"
	AuditFile  = "audit.db"
)

// BackfillSettings tunes the backfill engine.
type BackfillSettings struct {
	BatchSize       int `toml:"batch_size"`
	MaxBatchRetries int `toml:"max_batch_retries"`
	Tolerance       int `toml:"tolerance"`
}

// RetrySettings tunes the target-store retry wrapper.
type RetrySettings struct {
	MaxRetries       int     `toml:"max_retries"`
	InitialBackoffMS int     `toml:"initial_backoff_ms"`
	MaxBackoffMS     int     `toml:"max_backoff_ms"`
	JitterFraction   float64 `toml:"jitter_fraction"`
	OpTimeoutMS      int     `toml:"op_timeout_ms"`
}

// Config represents the swivel configuration.
type Config struct {
	Legacy   models.IndexTarget `toml:"legacy"`
	Target   models.IndexTarget `toml:"target"`
	FeedURL  string             `toml:"feed_url"`
	Lanes    int                `toml:"lanes"`
	Listen   string             `toml:"listen"`
	Backfill BackfillSettings   `toml:"backfill"`
	Retry    RetrySettings      `toml:"retry"`

	path string // path to .swivel directory
}

// FindRoot finds the .swivel directory by walking up from the current
// directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, SwivelDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a swivel migration directory (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .swivel directory.
func Load() (*Config, error) {
	p, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(p)
}

// LoadFrom loads the configuration from a specific .swivel directory.
func LoadFrom(swivelPath string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(swivelPath, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = swivelPath
	cfg.applyDefaults()
	return &cfg, nil
}

// Save saves the configuration to disk.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// SwivelPath returns the path to the .swivel directory.
func (c *Config) SwivelPath() string {
	return c.path
}

// MetaPath returns the path to the bbolt metastore.
func (c *Config) MetaPath() string {
	return filepath.Join(c.path, MetaFile)
}

// AuditPath returns the path to the sqlite audit log.
func (c *Config) AuditPath() string {
	return filepath.Join(c.path, AuditFile)
}

// InitialBackoff returns the retry initial backoff as a duration.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Retry.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry backoff cap as a duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond
}

// OpTimeout returns the per-attempt store timeout as a duration.
func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.Retry.OpTimeoutMS) * time.Millisecond
}

// applyDefaults fills zero values with working defaults.
func (c *Config) applyDefaults() {
	if c.Lanes == 0 {
		c.Lanes = 4
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:7474"
	}
	if c.Backfill.BatchSize == 0 {
		c.Backfill.BatchSize = 100
	}
	if c.Backfill.MaxBatchRetries == 0 {
		c.Backfill.MaxBatchRetries = 5
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialBackoffMS == 0 {
		c.Retry.InitialBackoffMS = 500
	}
	if c.Retry.MaxBackoffMS == 0 {
		c.Retry.MaxBackoffMS = 30000
	}
	if c.Retry.JitterFraction == 0 {
		c.Retry.JitterFraction = 0.25
	}
	if c.Retry.OpTimeoutMS == 0 {
		c.Retry.OpTimeoutMS = 15000
	}
}

// Initialize creates a new .swivel directory with initial configuration.
func Initialize(legacy, target models.IndexTarget, feedURL string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return InitializeAt(cwd, legacy, target, feedURL)
}

// InitializeAt creates the .swivel directory under the given base
// directory.
func InitializeAt(base string, legacy, target models.IndexTarget, feedURL string) (*Config, error) {
	swivelPath := filepath.Join(base, SwivelDir)

	// Check if already initialized
	if _, err := os.Stat(swivelPath); err == nil {
		return nil, fmt.Errorf("swivel migration already exists")
	}

	if err := os.MkdirAll(swivelPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .swivel directory: %w", err)
	}

	cfg := &Config{
		Legacy:  legacy,
		Target:  target,
		FeedURL: feedURL,
		path:    swivelPath,
	}
	cfg.applyDefaults()

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(swivelPath)
		return nil, err
	}

	return cfg, nil
}
