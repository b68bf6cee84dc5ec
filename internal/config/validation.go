package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: fmt.Sprintf("rate limit cannot be negative, got %d", c.Server.RateLimitPerMin),
		})
	}

	// Validate detector defaults
	errs = append(errs, validateDetection("detection", c.Detection)...)
	errs = append(errs, validateDetection("streaming", c.Streaming)...)
	if c.Streaming.MinSamples > c.Streaming.WindowSize {
		errs = append(errs, &ValidationError{
			Field: "streaming.min_samples",
			Message: fmt.Sprintf("min_samples (%d) cannot exceed window_size (%d); detectors would never fire",
				c.Streaming.MinSamples, c.Streaming.WindowSize),
		})
	}

	// Validate cache configuration
	if c.Cache.FreshnessSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.freshness_seconds",
			Message: fmt.Sprintf("freshness must be at least 1 second, got %d", c.Cache.FreshnessSeconds),
		})
	}
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_entries",
			Message: fmt.Sprintf("max_entries must be at least 1, got %d", c.Cache.MaxEntries),
		})
	}

	// Validate history configuration
	if c.History.Capacity < 1 {
		errs = append(errs, &ValidationError{
			Field:   "history.capacity",
			Message: fmt.Sprintf("capacity must be at least 1, got %d", c.History.Capacity),
		})
	}

	// Validate database configuration
	if c.Database.Enabled && strings.TrimSpace(c.Database.SQLitePath) == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required when database is enabled",
		})
	}
	if c.Database.RetentionHours < 0 {
		errs = append(errs, &ValidationError{
			Field:   "database.retention_hours",
			Message: fmt.Sprintf("retention_hours cannot be negative, got %d", c.Database.RetentionHours),
		})
	}

	// Validate logging configuration
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}
	if c.Logging.FilePath != "" && c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1 when file logging is enabled, got %d", c.Logging.MaxSizeMB),
		})
	}

	return errs
}

func validateDetection(section string, d DetectionConfig) []error {
	var errs []error
	if _, err := anomaly.ParseAlgorithm(d.Algorithm); err != nil {
		names := make([]string, 0, 6)
		for _, a := range anomaly.Algorithms() {
			names = append(names, string(a))
		}
		errs = append(errs, &ValidationError{
			Field:   section + ".algorithm",
			Message: fmt.Sprintf("invalid algorithm '%s', must be one of: %s", d.Algorithm, strings.Join(names, ", ")),
		})
	}
	if _, err := anomaly.ParseSensitivity(d.Sensitivity); err != nil {
		errs = append(errs, &ValidationError{
			Field:   section + ".sensitivity",
			Message: fmt.Sprintf("invalid sensitivity '%s', must be one of: low, medium, high, critical", d.Sensitivity),
		})
	}
	if d.WindowSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   section + ".window_size",
			Message: fmt.Sprintf("window_size must be at least 1, got %d", d.WindowSize),
		})
	}
	if d.Threshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   section + ".threshold",
			Message: fmt.Sprintf("threshold must be positive, got %g", d.Threshold),
		})
	}
	if d.MinSamples < 1 {
		errs = append(errs, &ValidationError{
			Field:   section + ".min_samples",
			Message: fmt.Sprintf("min_samples must be at least 1, got %d", d.MinSamples),
		})
	}
	return errs
}
