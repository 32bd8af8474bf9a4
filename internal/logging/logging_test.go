package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/oszuidwest/gunshot-logger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gunshot_detection.log")
	var stdout bytes.Buffer

	logger, closer, err := newLogger(config.LoggingConfig{Level: "info", Format: "text", File: path}, &stdout)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("gunshot_001 detected due to decibel reading of -9.8 dB")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gunshot_001 detected")
	assert.NotContains(t, string(data), "hidden")
	assert.Equal(t, stdout.String(), string(data))
}

func TestNew_JSONFormat(t *testing.T) {
	var stdout bytes.Buffer
	logger, closer, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &stdout)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("trigger", "level_db", -9.8)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entry))
	assert.Equal(t, "trigger", entry["msg"])
	assert.InDelta(t, -9.8, entry["level_db"], 1e-9)
}
