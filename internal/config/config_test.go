package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 9082, cfg.Server.GRPCPort)
	assert.Equal(t, 600, cfg.Server.RateLimitPerMin)

	// Detector defaults match the engine's built-in defaults
	assert.Equal(t, anomaly.DefaultBatchConfig(), cfg.Detection.AnomalyConfig())
	assert.Equal(t, anomaly.DefaultStreamingConfig(), cfg.Streaming.AnomalyConfig())

	// Test cache defaults
	assert.True(t, cfg.Cache.EnableCaching)
	assert.Equal(t, 300, cfg.Cache.FreshnessSeconds)
	assert.Equal(t, 0, cfg.Cache.TTLSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)

	assert.Equal(t, 5760, cfg.History.Capacity)

	// Test database defaults
	assert.False(t, cfg.Database.Enabled)
	assert.NotEmpty(t, cfg.Database.SQLitePath)
	assert.Equal(t, 168, cfg.Database.RetentionHours)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Logging.Compress)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too low",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "grpc port collides with http port",
			modifyFn:  func(cfg *Config) { cfg.Server.GRPCPort = cfg.Server.Port },
			wantError: true,
			errorMsg:  "grpc_port must differ from port",
		},
		{
			name:      "grpc disabled",
			modifyFn:  func(cfg *Config) { cfg.Server.GRPCPort = 0 },
			wantError: false,
		},
		{
			name:      "unknown batch algorithm",
			modifyFn:  func(cfg *Config) { cfg.Detection.Algorithm = "prophet" },
			wantError: true,
			errorMsg:  "invalid algorithm 'prophet'",
		},
		{
			name:      "unknown sensitivity",
			modifyFn:  func(cfg *Config) { cfg.Streaming.Sensitivity = "extreme" },
			wantError: true,
			errorMsg:  "invalid sensitivity 'extreme'",
		},
		{
			name:      "non-positive threshold",
			modifyFn:  func(cfg *Config) { cfg.Detection.Threshold = 0 },
			wantError: true,
			errorMsg:  "threshold must be positive",
		},
		{
			name: "streaming min samples above window",
			modifyFn: func(cfg *Config) {
				cfg.Streaming.WindowSize = 5
				cfg.Streaming.MinSamples = 10
			},
			wantError: true,
			errorMsg:  "cannot exceed window_size",
		},
		{
			name:      "database enabled without path",
			modifyFn:  func(cfg *Config) { cfg.Database.Enabled = true; cfg.Database.SQLitePath = " " },
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name:      "negative retention",
			modifyFn:  func(cfg *Config) { cfg.Database.RetentionHours = -1 },
			wantError: true,
			errorMsg:  "retention_hours cannot be negative",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "invalid log format",
			modifyFn:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantError: true,
			errorMsg:  "invalid log format",
		},
		{
			name:      "zero cache entries",
			modifyFn:  func(cfg *Config) { cfg.Cache.MaxEntries = 0 },
			wantError: true,
			errorMsg:  "max_entries must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if !tt.wantError {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			found := false
			for _, err := range errs {
				if assert.IsType(t, &ValidationError{}, err) && strings.Contains(err.Error(), tt.errorMsg) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got %v", tt.errorMsg, errs)
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anomaly.yaml")

	configContent := `
server:
  port: 9090
  grpc_port: 0

detection:
  algorithm: "zscore"
  threshold: 3.0

streaming:
  window_size: 200
  enable_realtime: false

cache:
  freshness_seconds: 60

database:
  enabled: true
  sqlite_path: "/tmp/anomaly.db"
  retention_hours: 24

logging:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.GRPCPort)
	assert.Equal(t, "zscore", cfg.Detection.Algorithm)
	assert.Equal(t, 3.0, cfg.Detection.Threshold)
	// untouched keys keep defaults
	assert.Equal(t, "medium", cfg.Detection.Sensitivity)
	assert.Equal(t, 20, cfg.Detection.MinSamples)
	assert.True(t, cfg.Detection.EnableContextual)

	assert.Equal(t, 200, cfg.Streaming.WindowSize)
	assert.False(t, cfg.Streaming.EnableRealtime)
	assert.Equal(t, "modified_zscore", cfg.Streaming.Algorithm)

	assert.Equal(t, 60, cfg.Cache.FreshnessSeconds)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "/tmp/anomaly.db", cfg.Database.SQLitePath)
	assert.Equal(t, 24, cfg.Database.RetentionHours)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("KUBILITICS_ANOMALY_SERVER_PORT", "7070")
	t.Setenv("KUBILITICS_ANOMALY_DETECTION_ALGORITHM", "iqr")
	t.Setenv("KUBILITICS_ANOMALY_LOGGING_LEVEL", "warn")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anomaly.yaml")
	configContent := `
server:
  port: 8082
detection:
  algorithm: "ensemble"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 7070, cfg.Server.Port, "port should be overridden by environment variable")
	assert.Equal(t, "iqr", cfg.Detection.Algorithm)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestConfigManagerFlagsOverrideEverything(t *testing.T) {
	t.Setenv("KUBILITICS_ANOMALY_SERVER_PORT", "7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8082, "")
	flags.String("log-level", "info", "")
	flags.Bool("persist", false, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--port=6060", "--persist"}))

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.BindFlags(flags))

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.True(t, cfg.Database.Enabled)
	// flag defaults do not override unset keys from other sources
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nonexistent-config.yaml")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.NotNil(t, cfg)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, "ensemble", cfg.Detection.Algorithm)
}

func TestConfigManagerMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [port: 1"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	assert.Error(t, mgr.Load(context.Background()))
}

func TestConfigManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anomaly.yaml")
	configContent := `
server:
  port: 99999

detection:
  algorithm: "neural"

logging:
  format: "xml"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "detection.algorithm")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anomaly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("history:\n  capacity: 10\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 10, mgr.Get(ctx).History.Capacity)

	require.NoError(t, os.WriteFile(configPath, []byte("history:\n  capacity: 20\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 20, mgr.Get(ctx).History.Capacity)
}

func TestConfigManagerWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anomaly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	updates := mgr.Watch(ctx)
	// the watcher is set up asynchronously
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0644))

	select {
	case cfg := <-updates:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration update received")
	}
	assert.Equal(t, "debug", mgr.Get(ctx).Logging.Level)
}
