// Package agent implements the autonomous operator: the step loop that drives
// a streaming completion provider and executes the tool calls it requests.
package agent

import (
	"github.com/ashureev/shsh-operator/internal/domain"
)

// Config holds agent configuration.
type Config struct {
	DefaultModel        string
	MaxSteps            int
	ContainerSharedPath string
	HostSharedPath      string
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            25,
		ContainerSharedPath: "/root/data",
		HostSharedPath:      "./shared_data",
	}
}

// EventType categorizes events surfaced to the caller during a run.
type EventType string

const (
	// EventContent carries a verbatim model text fragment.
	EventContent EventType = "content"
	// EventCommandStart carries "> <command>".
	EventCommandStart EventType = "command_start"
	// EventCommandResult carries "< <stdout or stderr>".
	EventCommandResult EventType = "command_result"
	// EventError carries a fatal error description.
	EventError EventType = "error"
	// EventDone is the terminal marker. Every run emits exactly one.
	EventDone EventType = "done"
)

// Event is one item of the outbound stream.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// ChatRequest is a chat request bound to a caller.
type ChatRequest struct {
	domain.ChatRequest
	ClientID string `json:"-"`
}
