package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"grpc-port":    "server.grpc_port",
	"rate-limit":   "server.rate_limit_per_min",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file_path",
	"persist":      "database.enabled",
	"sqlite-path":  "database.sqlite_path",
	"cache":        "cache.enable_caching",
	"history-size": "history.capacity",
}

func (m *viperConfigManager) ensureViper() {
	if m.viper != nil {
		return
	}
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()
}

// BindFlags binds every known flag present in flags.
func (m *viperConfigManager) BindFlags(flags *pflag.FlagSet) error {
	m.ensureViper()
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := m.viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.ensureViper()

	// Config file is optional; defaults and env vars still apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		// Combine all errors into a single error message
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.ensureViper()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	m.ensureViper()
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Detection defaults
	setDetectionDefaults(m.viper, "detection", defaults.Detection)
	setDetectionDefaults(m.viper, "streaming", defaults.Streaming)

	// Cache defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.freshness_seconds", defaults.Cache.FreshnessSeconds)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)

	// History defaults
	m.viper.SetDefault("history.capacity", defaults.History.Capacity)

	// Database defaults
	m.viper.SetDefault("database.enabled", defaults.Database.Enabled)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.retention_hours", defaults.Database.RetentionHours)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

func setDetectionDefaults(v *viper.Viper, section string, d DetectionConfig) {
	v.SetDefault(section+".algorithm", d.Algorithm)
	v.SetDefault(section+".sensitivity", d.Sensitivity)
	v.SetDefault(section+".window_size", d.WindowSize)
	v.SetDefault(section+".threshold", d.Threshold)
	v.SetDefault(section+".min_samples", d.MinSamples)
	v.SetDefault(section+".enable_contextual", d.EnableContextual)
	v.SetDefault(section+".enable_collective", d.EnableCollective)
	v.SetDefault(section+".enable_realtime", d.EnableRealtime)
}

func getDetection(v *viper.Viper, section string) DetectionConfig {
	return DetectionConfig{
		Algorithm:        v.GetString(section + ".algorithm"),
		Sensitivity:      v.GetString(section + ".sensitivity"),
		WindowSize:       v.GetInt(section + ".window_size"),
		Threshold:        v.GetFloat64(section + ".threshold"),
		MinSamples:       v.GetInt(section + ".min_samples"),
		EnableContextual: v.GetBool(section + ".enable_contextual"),
		EnableCollective: v.GetBool(section + ".enable_collective"),
		EnableRealtime:   v.GetBool(section + ".enable_realtime"),
	}
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Detection
	cfg.Detection = getDetection(m.viper, "detection")
	cfg.Streaming = getDetection(m.viper, "streaming")

	// Cache
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.FreshnessSeconds = m.viper.GetInt("cache.freshness_seconds")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.Cache.MaxEntries = m.viper.GetInt("cache.max_entries")

	// History
	cfg.History.Capacity = m.viper.GetInt("history.capacity")

	// Database
	cfg.Database.Enabled = m.viper.GetBool("database.enabled")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.RetentionHours = m.viper.GetInt("database.retention_hours")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}
