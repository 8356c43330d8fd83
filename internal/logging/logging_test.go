package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"CRITICAL": slog.LevelError,
		"":         slog.LevelInfo,
		"verbose":  slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNewFansOutToStdoutAndFile(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "app.log")

	logger, closer, err := New(&stdout, Options{Level: "info", File: path})
	require.NoError(t, err)
	logger.Info("Executing command", "command", "ls /root")
	logger.Debug("Hidden at info level")
	require.NoError(t, closer.Close())

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &record), "stdout is a single JSON record")
	assert.Equal(t, "Executing command", record["msg"])
	assert.Equal(t, "ls /root", record["command"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `msg="Executing command"`)
	assert.NotContains(t, text, "Hidden")
}

func TestNewDebugOverridesLevel(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	logger, _, err := New(&stdout, Options{Level: "error", Debug: true})
	require.NoError(t, err)
	logger.Debug("Visible")
	assert.Contains(t, stdout.String(), "Visible")
}
