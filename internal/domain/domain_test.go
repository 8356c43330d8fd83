package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolInvocationWireFormat(t *testing.T) {
	t.Parallel()

	inv := ToolInvocation{ID: "call_1", Name: "execute_ssh_command", Arguments: `{"command":"ls"}`}
	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"call_1","type":"function","function":{"name":"execute_ssh_command","arguments":"{\"command\":\"ls\"}"}}`,
		string(data))

	var back ToolInvocation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, inv, back)

	assert.Error(t, json.Unmarshal([]byte(`{"id":"x","type":"retrieval"}`), &back), "unsupported type")
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"system", SystemMessage("s"), false},
		{"user", UserMessage("u"), false},
		{"assistant without content", AssistantMessage("", []ToolInvocation{{ID: "1", Name: "n"}}), false},
		{"tool", ToolResultMessage("1", "EXIT:0"), false},
		{"tool without id", Message{Role: RoleTool}, true},
		{"user with tool calls", Message{Role: RoleUser, ToolCalls: []ToolInvocation{{ID: "1", Name: "n"}}}, true},
		{"user with tool call id", Message{Role: RoleUser, ToolCallID: "1"}, true},
		{"assistant with tool call id", Message{Role: RoleAssistant, ToolCallID: "1"}, true},
		{"assistant call without id", AssistantMessage("", []ToolInvocation{{Name: "n"}}), true},
		{"unknown role", Message{Role: "developer"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssistantMessageOmitsEmptyContent(t *testing.T) {
	t.Parallel()

	m := AssistantMessage("", nil)
	assert.Nil(t, m.Content)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "content")
}

func TestCommandOutcomeFormatting(t *testing.T) {
	t.Parallel()

	o := CommandOutcome{ExitCode: 0, Stdout: "a.txt\nb.txt"}
	assert.Equal(t, "EXIT:0\nSTDOUT:\na.txt\nb.txt\nSTDERR:\n", o.ToolContent())
	assert.Equal(t, "a.txt\nb.txt", o.Display())

	failed := FailureOutcome(errors.New("session closed"))
	assert.Equal(t, 1, failed.ExitCode)
	assert.Equal(t, "Error: session closed", failed.Stderr)
	assert.Equal(t, "Error: session closed", failed.Display())

	timeout := TimeoutOutcome()
	assert.Equal(t, 124, timeout.ExitCode)
	assert.Empty(t, timeout.Stdout)
	assert.Equal(t, "Error: Command timed out", timeout.Stderr)
}

func TestAuditEntryTruncatesAndFormats(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := NewAuditEntry(ts, "run-1", "cat", strings.Repeat("i", 80), CommandOutcome{
		ExitCode: 2,
		Stdout:   strings.Repeat("o", 150),
		Stderr:   "boom",
	})

	assert.Len(t, entry.Input, AuditInputPreview)
	assert.Len(t, entry.Stdout, AuditOutputPreview)

	want := "[2026-01-02 03:04:05] CMD: cat\n" +
		"IN: " + strings.Repeat("i", 50) + "...\n" +
		"OUT: " + strings.Repeat("o", 100) + "...\n" +
		"ERR: boom...\n" +
		"CODE: 2\n" +
		strings.Repeat("=", 50) + "\n"
	assert.Equal(t, want, entry.Format())
}

func TestTruncateIsRuneSafe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héllo", Truncate("héllo wörld", 5))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Empty(t, Truncate("abc", 0))
}

func TestChatRequestDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"messages":[{"role":"user","content":"list files"}],"temperature":0.9}`), &req))
	require.NoError(t, req.Validate())

	assert.Equal(t, Sampling{Temperature: 0.9, TopP: 1.0}, req.Sampling())
	assert.Equal(t, "list files", req.LastUserText())

	assert.Error(t, (ChatRequest{}).Validate(), "empty messages")
	bad := ChatRequest{Messages: []Message{{Role: RoleTool, Content: ptr("x")}}}
	assert.ErrorContains(t, bad.Validate(), "messages[0]")
}

func TestRunStateTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []RunState{StateDone, StateLimitReached, StateFailed} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []RunState{StateRunning, StateAwaitingModel, StateExecutingTools} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func ptr[T any](v T) *T { return &v }
