package config

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

// Package config provides configuration management for kubilitics-anomaly.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and CLI flags
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading and file watching
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (KUBILITICS_ANOMALY_* prefix, "." replaced by "_")
//   3. YAML config file (default: /etc/kubilitics/anomaly.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: HTTP listen address (default 0.0.0.0:8082)
//      - grpc_port: gRPC health service (default 9082, 0 disables)
//      - rate_limit_per_min: per-client limit on ingestion endpoints (0 disables)
//      - allowed_origins: WebSocket origins
//
//   2. Detection / Streaming
//      - Default detector configuration for batch runs and streaming detectors
//
//   3. Cache
//      - enable_caching, freshness_seconds, ttl_seconds, max_entries
//
//   4. History
//      - capacity: points kept per metric
//
//   5. Database
//      - enabled, sqlite_path: anomaly history persistence
//      - retention_hours: prune older anomalies (0 keeps all)
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//      - file_path and rotation settings

// DetectionConfig mirrors anomaly.Config in configuration files.
type DetectionConfig struct {
	Algorithm        string
	Sensitivity      string
	WindowSize       int
	Threshold        float64
	MinSamples       int
	EnableContextual bool
	EnableCollective bool
	EnableRealtime   bool
}

// AnomalyConfig converts to the engine's configuration type. Call Validate
// first; names are not checked here.
func (d DetectionConfig) AnomalyConfig() anomaly.Config {
	return anomaly.Config{
		Algorithm:        anomaly.Algorithm(d.Algorithm),
		Sensitivity:      anomaly.Sensitivity(d.Sensitivity),
		WindowSize:       d.WindowSize,
		Threshold:        d.Threshold,
		MinSamples:       d.MinSamples,
		EnableContextual: d.EnableContextual,
		EnableCollective: d.EnableCollective,
		EnableRealtime:   d.EnableRealtime,
	}
}

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host            string
		Port            int
		GRPCPort        int
		RateLimitPerMin int
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Batch detection defaults
	Detection DetectionConfig

	// Streaming detector defaults
	Streaming DetectionConfig

	// Result cache configuration
	Cache struct {
		EnableCaching    bool
		FreshnessSeconds int
		TTLSeconds       int
		MaxEntries       int
	}

	// Per-metric history
	History struct {
		Capacity int
	}

	// Database configuration
	Database struct {
		Enabled    bool
		SQLitePath string
		// RetentionHours bounds stored anomaly age; 0 keeps everything.
		RetentionHours int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error

	// BindFlags makes CLI flags override file and environment values.
	// Call before Load.
	BindFlags(flags *pflag.FlagSet) error
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/kubilitics/anomaly.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KUBILITICS_ANOMALY"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
