package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_JSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	defer closer.Close()

	logger.Named("engine").Info("detector created", zap.String("metric", "cpu"))
	logger.Debug("dropped")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "engine", entry["logger"])
	assert.Equal(t, "detector created", entry["message"])
	assert.Equal(t, "cpu", entry["metric"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(Config{Level: "debug", Format: "console"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("cache miss")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "cache miss")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomaly.log")
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{
		Level:      "warn",
		Format:     "console",
		FilePath:   path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("ignored")
	logger.Warn("unsupported streaming algorithm", zap.String("algorithm", "ensemble"))
	require.NoError(t, logger.Sync())
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ignored")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "ensemble", entry["algorithm"])
}

func TestNewLogger_InvalidSettings(t *testing.T) {
	_, _, err := NewLogger(Config{Level: "loud"})
	assert.Error(t, err)

	_, _, err = NewLogger(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewLogger_AtomicLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := zap.NewAtomicLevel()
	logger, _, err := newLogger(Config{Level: "warn", AtomicLevel: &lvl}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl.Level())

	logger.Info("before")
	lvl.SetLevel(zapcore.InfoLevel)
	logger.Info("after")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}
