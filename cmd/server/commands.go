package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/config"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/logging"
	"github.com/kubilitics/kubilitics-anomaly/internal/server"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kubilitics-anomaly",
		Short: "Statistical anomaly detection for time-series metrics",
		Long: `kubilitics-anomaly detects anomalies in metric time series with
z-score, modified z-score, IQR, isolation, seasonal ESD and ensemble
detectors, in batch over HTTP or point by point with streaming detectors.`,
		SilenceUsage: true,
	}

	// Flags shared by every subcommand; names match config.BindFlags.
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultConfigPath, "Config file path")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, console)")
	flags.String("log-file", "", "Also write logs to this rotated file")

	rootCmd.AddCommand(newServeCmd(), newDetectCmd(), newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC health server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	f := cmd.Flags()
	f.String("host", "0.0.0.0", "HTTP listen host")
	f.Int("port", 8082, "HTTP listen port")
	f.Int("grpc-port", 9082, "gRPC health port (0 disables)")
	f.Int("rate-limit", 600, "Ingestion requests per minute per client (0 disables)")
	f.Bool("persist", false, "Record emitted anomalies in SQLite")
	f.String("sqlite-path", "/var/lib/kubilitics/anomaly.db", "SQLite database path")
	f.Bool("cache", true, "Cache batch detection results")
	f.Int("history-size", 5760, "Points of history kept per metric")
	return cmd
}

func newDetectCmd() *cobra.Command {
	var (
		metric      string
		file        string
		algorithm   string
		sensitivity string
		threshold   float64
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one batch detection over points read from a JSON file",
		Example: `  kubilitics-anomaly detect --metric cpu_usage --file points.json
  kubilitics-anomaly detect --metric latency --file - --algorithm iqr < points.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg, nil)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer logger.Sync() //nolint:errcheck

			points, err := readPoints(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			override := &anomaly.Config{
				Algorithm:   anomaly.Algorithm(algorithm),
				Sensitivity: anomaly.Sensitivity(sensitivity),
				Threshold:   threshold,
			}
			return runDetect(cmd.Context(), cmd.OutOrStdout(), cfg, logger, metric, points, override)
		},
	}
	f := cmd.Flags()
	f.StringVar(&metric, "metric", "", "Metric name (required)")
	f.StringVar(&file, "file", "", `JSON file of points, or "-" for stdin (required)`)
	f.StringVar(&algorithm, "algorithm", "", "Override the configured algorithm")
	f.StringVar(&sensitivity, "sensitivity", "", "Override the configured sensitivity")
	f.Float64Var(&threshold, "threshold", 0, "Override the configured threshold")
	_ = cmd.MarkFlagRequired("metric")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kubilitics-anomaly %s (built %s)\n", Version, BuildTime)
		},
	}
}

// loadConfig loads file, environment and flag configuration, in increasing
// priority, and validates the result.
func loadConfig(cmd *cobra.Command) (config.ConfigManager, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.BindFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	ctx := context.Background()
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

func newLogger(cfg *config.Config, level *zap.AtomicLevel) (*zap.Logger, io.Closer, error) {
	return logging.NewLogger(logging.Config{
		AtomicLevel: level,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
}

func runServe(cmd *cobra.Command) error {
	mgr, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := zap.NewAtomicLevel()
	logger, closer, err := newLogger(cfg, &level)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if path, _ := cmd.Flags().GetString("config"); fileExists(path) {
		go followConfig(ctx, mgr.Watch(ctx), level, logger)
	}

	logger.Info("starting kubilitics-anomaly",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	opts := []server.Option{server.WithLogger(logger), server.WithClock(clock.New())}
	if cfg.Database.Enabled {
		store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("open anomaly store: %w", err)
		}
		defer store.Close()
		opts = append(opts, server.WithStore(store))
	}

	srv, err := server.NewServer(cfg, opts...)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// followConfig applies config file edits that take effect without a
// restart. Only the log level is live; other changes are logged.
func followConfig(ctx context.Context, updates <-chan config.Config, level zap.AtomicLevel, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-updates:
			if errs := c.Validate(); len(errs) > 0 {
				logger.Warn("ignoring invalid configuration change", zap.Errors("errors", errs))
				continue
			}
			l, _ := zapcore.ParseLevel(c.Logging.Level)
			if l == level.Level() {
				logger.Info("configuration file changed; restart to apply")
				continue
			}
			level.SetLevel(l)
			logger.Info("log level changed", zap.Stringer("level", l))
		}
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// readPoints accepts a bare array of points or an object with a "data" array.
func readPoints(stdin io.Reader, file string) ([]anomaly.TimeSeriesPoint, error) {
	var raw []byte
	var err error
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}

	var points []anomaly.TimeSeriesPoint
	if err := json.Unmarshal(raw, &points); err == nil {
		return points, nil
	}
	var wrapped struct {
		Data []anomaly.TimeSeriesPoint `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse points: %w", err)
	}
	if wrapped.Data == nil {
		return nil, errors.New(`parse points: expected an array or an object with a "data" array`)
	}
	return wrapped.Data, nil
}

func runDetect(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, metric string, points []anomaly.TimeSeriesPoint, override *anomaly.Config) error {
	// Start from the configured batch defaults so their flags survive.
	c := cfg.Detection.AnomalyConfig()
	if override.Algorithm != "" {
		if _, err := anomaly.ParseAlgorithm(string(override.Algorithm)); err != nil {
			return err
		}
		c.Algorithm = override.Algorithm
	}
	if override.Sensitivity != "" {
		if _, err := anomaly.ParseSensitivity(string(override.Sensitivity)); err != nil {
			return err
		}
		c.Sensitivity = override.Sensitivity
	}
	if override.Threshold > 0 {
		c.Threshold = override.Threshold
	}

	engine, err := server.NewEngine(cfg, clock.New(), logger)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := engine.DetectAnomalies(ctx, metric, points, &c)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
