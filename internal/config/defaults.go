package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8082
	cfg.Server.GRPCPort = 9082
	cfg.Server.RateLimitPerMin = 600
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Batch detection defaults
	cfg.Detection = DetectionConfig{
		Algorithm:        "ensemble",
		Sensitivity:      "medium",
		WindowSize:       100,
		Threshold:        2.5,
		MinSamples:       20,
		EnableContextual: true,
		EnableCollective: true,
		EnableRealtime:   false,
	}

	// Streaming defaults
	cfg.Streaming = DetectionConfig{
		Algorithm:        "modified_zscore",
		Sensitivity:      "medium",
		WindowSize:       50,
		Threshold:        2.5,
		MinSamples:       10,
		EnableContextual: false,
		EnableCollective: false,
		EnableRealtime:   true,
	}

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.FreshnessSeconds = 300
	cfg.Cache.TTLSeconds = 0 // 0 means entries never expire
	cfg.Cache.MaxEntries = 1000

	// History defaults: 24h of 15-second samples
	cfg.History.Capacity = 5760

	// Database defaults
	cfg.Database.Enabled = false
	cfg.Database.SQLitePath = "/var/lib/kubilitics/anomaly.db"
	cfg.Database.RetentionHours = 168

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
