package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the core process settings. Values come from an optional
// YAML file with environment variables layered on top.
type Config struct {
	// DataDir holds the bolt database unless DatabasePath overrides it
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`

	// HeartbeatPort is the UDP port workers report to
	HeartbeatPort int `yaml:"heartbeat_port"`

	// ReachableTimeout is how long a worker may stay silent before the
	// dispatcher marks it unreachable
	ReachableTimeout Duration `yaml:"reachable_timeout"`

	// ArchiveHorizon is how long terminal jobs stay in the primary tables
	ArchiveHorizon Duration `yaml:"archive_horizon"`

	// MetricsAddr serves Prometheus metrics and health; empty disables it
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is the zerolog level for process logging
	LogLevel string `yaml:"log_level"`
	// LogJSON switches from console output to JSON
	LogJSON bool `yaml:"log_json"`
}

// Default returns the production defaults
func Default() Config {
	return Config{
		DataDir:          "/var/lib/swarmsync",
		HeartbeatPort:    5001,
		ReachableTimeout: Duration(2 * time.Second),
		ArchiveHorizon:   Duration(30 * 24 * time.Hour),
		MetricsAddr:      ":9090",
		LogLevel:         "info",
	}
}

// Load builds the effective configuration: defaults, then the YAML file if
// path is non-empty, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the current values
func (c *Config) applyEnv() {
	if v := os.Getenv("SWARMSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	// DATABASE_URL names the store location for deployments that template
	// a single connection variable
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("SWARMSYNC_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("SWARMSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects settings the core cannot run with
func (c *Config) Validate() error {
	if c.HeartbeatPort <= 0 || c.HeartbeatPort > 65535 {
		return fmt.Errorf("invalid heartbeat port: %d", c.HeartbeatPort)
	}
	if c.ReachableTimeout <= 0 {
		return fmt.Errorf("reachable timeout must be positive, got %s", c.ReachableTimeout.Std())
	}
	if c.ArchiveHorizon <= 0 {
		return fmt.Errorf("archive horizon must be positive, got %s", c.ArchiveHorizon.Std())
	}
	if c.DataDir == "" && c.DatabasePath == "" {
		return fmt.Errorf("either data_dir or database_path is required")
	}
	return nil
}
