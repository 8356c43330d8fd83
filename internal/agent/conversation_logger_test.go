package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLoggerWritesPerRunNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	event := ConversationLogEvent{
		ClientID:   "client-1",
		RunID:      "chatcmpl-1",
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: "echo hi",
	}
	logger.Log(event)

	path := filepath.Join(dir, "client-1", "chatcmpl-1.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "echo hi", got.ContentRaw)
	assert.NotEmpty(t, got.Content, "cleaned content should be populated")
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("\x1b[31merror\x1b[0m plain")
	assert.NotContains(t, clean, "\x1b[31m")
	assert.Contains(t, clean, "error plain")
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, noopConversationLogger{}, logger)
	logger.Log(ConversationLogEvent{ContentRaw: "ignored"})
	assert.NoError(t, logger.Close())
}

func TestConversationLoggerCloseDrainsAndWritesGlobal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		logger.Log(ConversationLogEvent{ClientID: "10.0.0.1", RunID: "r", EventType: "chat_assistant_content", ContentRaw: "x"})
	}
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(global)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
	assert.FileExists(t, filepath.Join(dir, "10.0.0.1", "r.ndjson"))
}

func TestSafePathSegment(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"10.0.0.1":    "10.0.0.1",
		"::1":         "__1",
		"../etc":      ".._etc",
		"":            "unknown",
		"..":          "unknown",
		"client/evil": "client_evil",
	}
	for in, want := range cases {
		assert.Equal(t, want, safePathSegment(in), "safePathSegment(%q)", in)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	var line string
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return false
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		line = lines[len(lines)-1]
		return true
	}, 2*time.Second, 20*time.Millisecond, "log file %s", path)
	return line
}
