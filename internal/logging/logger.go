// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger settings.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format is "json" or "console"
	Format string

	// FilePath enables a rotated log file in addition to stderr
	FilePath string

	// MaxSizeMB is the maximum size in megabytes before rotation
	MaxSizeMB int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAgeDays is the maximum number of days to retain old log files
	MaxAgeDays int

	// Compress determines if rotated files should be compressed
	Compress bool

	// AtomicLevel, when set, is seeded from Level and controls the logger,
	// so the level can be changed while running.
	AtomicLevel *zap.AtomicLevel
}

// NewLogger creates a logger writing to stderr and, when FilePath is set,
// to a lumberjack-rotated file. The returned closer releases the file.
func NewLogger(cfg Config) (*zap.Logger, io.Closer, error) {
	return newLogger(cfg, zapcore.Lock(os.Stderr))
}

func newLogger(cfg Config, console zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
		}
		level = l
	}

	atom := zap.NewAtomicLevelAt(level)
	if cfg.AtomicLevel != nil {
		cfg.AtomicLevel.SetLevel(level)
		atom = *cfg.AtomicLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, console, atom)}
	var closer io.Closer = nopCloser{}

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		}
		// Files always get JSON regardless of the console format.
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			atom,
		))
		closer = rotator
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
