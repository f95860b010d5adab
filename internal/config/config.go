// Package config loads and validates the engine's typed configuration
// tree (spec.md §3 Configuration, §6). Structured the way the teacher's
// database.Config is declared in database/database.go, loaded from YAML
// via gopkg.in/yaml.v3 with environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Monitoring holds the cadence of every background worker.
type Monitoring struct {
	DatabasePollInterval      time.Duration `yaml:"database_poll_interval"`
	FileSystemDebounce        time.Duration `yaml:"file_system_debounce"`
	FullReconciliationInterval time.Duration `yaml:"full_reconciliation_interval"`
	HealthCheckInterval       time.Duration `yaml:"health_check_interval"`
	MaxConcurrentComparisons  int           `yaml:"max_concurrent_comparisons"`
}

// Cache holds retention policy for persisted collections (spec.md §4.7).
type Cache struct {
	SnapshotRetention              time.Duration `yaml:"snapshot_retention"`
	MaxCachedSnapshotsPerSubscription int        `yaml:"max_cached_snapshots_per_subscription"`
	ComparisonHistoryRetention     time.Duration `yaml:"comparison_history_retention"`
	PendingChangeRetention         time.Duration `yaml:"pending_change_retention"`
}

// Workers holds the five enable-flags (spec.md §4.8).
type Workers struct {
	DatabasePollingEnabled   bool `yaml:"database_polling_enabled"`
	FileWatchingEnabled      bool `yaml:"file_watching_enabled"`
	ReconciliationEnabled    bool `yaml:"reconciliation_enabled"`
	CacheCleanupEnabled      bool `yaml:"cache_cleanup_enabled"`
	HealthCheckEnabled       bool `yaml:"health_check_enabled"`
}

// Server holds listener settings for the (out-of-scope) request layer.
type Server struct {
	Port            int  `yaml:"port"`
	SecureTransport bool `yaml:"secure_transport"`
}

// Config is the full recognized settings tree (spec.md §3).
type Config struct {
	Monitoring Monitoring `yaml:"monitoring"`
	Cache      Cache      `yaml:"cache"`
	Workers    Workers    `yaml:"workers"`
	Server     Server     `yaml:"server"`
}

// Default returns the configuration with every documented default applied
// (spec.md §3).
func Default() Config {
	return Config{
		Monitoring: Monitoring{
			DatabasePollInterval:      30 * time.Second,
			FileSystemDebounce:        500 * time.Millisecond,
			FullReconciliationInterval: 5 * time.Minute,
			HealthCheckInterval:       60 * time.Second,
			MaxConcurrentComparisons:  2,
		},
		Cache: Cache{
			SnapshotRetention:              7 * 24 * time.Hour,
			MaxCachedSnapshotsPerSubscription: 10,
			ComparisonHistoryRetention:     30 * 24 * time.Hour,
			PendingChangeRetention:         24 * time.Hour,
		},
		Workers: Workers{
			DatabasePollingEnabled: true,
			FileWatchingEnabled:    true,
			ReconciliationEnabled:  true,
			CacheCleanupEnabled:    true,
			HealthCheckEnabled:     true,
		},
		Server: Server{
			Port:            8080,
			SecureTransport: false,
		},
	}
}

// Load reads a YAML settings file, falling back to defaults for anything
// unset, then applies environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides layers SCHEMADRIFT_-prefixed environment variables on
// top of the loaded config, per platform convention (spec.md §6).
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SCHEMADRIFT_MAX_CONCURRENT_COMPARISONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitoring.MaxConcurrentComparisons = n
		}
	}
	if v, ok := os.LookupEnv("SCHEMADRIFT_DATABASE_POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitoring.DatabasePollInterval = d
		}
	}
	if v, ok := os.LookupEnv("SCHEMADRIFT_SERVER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}

// Validate rejects settings the engine cannot safely run with.
func (c Config) Validate() error {
	if c.Monitoring.MaxConcurrentComparisons < 1 {
		return fmt.Errorf("monitoring.max_concurrent_comparisons must be >= 1")
	}
	if c.Monitoring.DatabasePollInterval <= 0 {
		return fmt.Errorf("monitoring.database_poll_interval must be positive")
	}
	if c.Monitoring.FileSystemDebounce <= 0 {
		return fmt.Errorf("monitoring.file_system_debounce must be positive")
	}
	if c.Monitoring.FullReconciliationInterval <= 0 {
		return fmt.Errorf("monitoring.full_reconciliation_interval must be positive")
	}
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be positive")
	}
	if c.Cache.MaxCachedSnapshotsPerSubscription < 1 {
		return fmt.Errorf("cache.max_cached_snapshots_per_subscription must be >= 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
