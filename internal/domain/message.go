// Package domain contains core domain types for the operator.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolInvocation is a fully reassembled function call requested by the model.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments string
}

type toolInvocationWire struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// MarshalJSON encodes the invocation in chat-completion tool_call form.
func (t ToolInvocation) MarshalJSON() ([]byte, error) {
	var w toolInvocationWire
	w.ID = t.ID
	w.Type = "function"
	w.Function.Name = t.Name
	w.Function.Arguments = t.Arguments
	return json.Marshal(w)
}

// UnmarshalJSON decodes the chat-completion tool_call form.
func (t *ToolInvocation) UnmarshalJSON(data []byte) error {
	var w toolInvocationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != "" && w.Type != "function" {
		return fmt.Errorf("unsupported tool call type %q", w.Type)
	}
	t.ID = w.ID
	t.Name = w.Function.Name
	t.Arguments = w.Function.Arguments
	return nil
}

// Message is one entry of the conversation history. Which optional fields may
// be set depends on Role; the constructors and Validate enforce this.
type Message struct {
	Role       Role             `json:"role"`
	Content    *string          `json:"content,omitempty"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: &content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: &content}
}

// AssistantMessage builds an assistant-role message. Empty content is stored
// as absent.
func AssistantMessage(content string, calls []ToolInvocation) Message {
	m := Message{Role: RoleAssistant, ToolCalls: calls}
	if content != "" {
		m.Content = &content
	}
	return m
}

// ToolResultMessage builds a tool-role message answering toolCallID.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// Text returns the content or "" when absent.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Validate enforces the per-role field rules.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%s message cannot carry tool_calls", m.Role)
		}
		if m.ToolCallID != "" {
			return fmt.Errorf("%s message cannot carry tool_call_id", m.Role)
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return errors.New("assistant message cannot carry tool_call_id")
		}
		for i, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				return fmt.Errorf("assistant tool_calls[%d] requires id and name", i)
			}
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return errors.New("tool message requires tool_call_id")
		}
		if len(m.ToolCalls) > 0 {
			return errors.New("tool message cannot carry tool_calls")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}
