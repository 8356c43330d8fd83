package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	chunkObject       = "chat.completion.chunk"
	roleAssistant     = "assistant"
	finishReasonStop  = "stop"
	systemErrorPrefix = "\n**System Error**: "
	doneFrame         = "data: [DONE]\n\n"
)

// Chunk is the chat-completion chunk written for each event.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is the single choice of a Chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChunkDelta carries either model content or a command marker.
type ChunkDelta struct {
	Role          string `json:"role,omitempty"`
	Content       string `json:"content,omitempty"`
	CommandOutput string `json:"command_output,omitempty"`
}

// ChunkEncoder frames events of one run as SSE data lines.
type ChunkEncoder struct {
	id      string
	model   string
	created int64
}

// NewChunkEncoder creates an encoder stamping every chunk with id, model and
// the creation time.
func NewChunkEncoder(id, model string, created time.Time) *ChunkEncoder {
	return &ChunkEncoder{id: id, model: model, created: created.Unix()}
}

// Chunk converts ev to a chunk. EventDone has no chunk form.
func (e *ChunkEncoder) Chunk(ev Event) Chunk {
	choice := ChunkChoice{Index: 0}
	switch ev.Type {
	case EventContent:
		choice.Delta = ChunkDelta{Role: roleAssistant, Content: ev.Content}
	case EventCommandStart, EventCommandResult:
		choice.Delta = ChunkDelta{CommandOutput: ev.Content}
	case EventError:
		choice.Delta = ChunkDelta{Content: systemErrorPrefix + ev.Content}
		choice.FinishReason = finishReasonStop
	}
	return Chunk{
		ID:      e.id,
		Object:  chunkObject,
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{choice},
	}
}

// WriteEvent writes ev as one SSE frame.
func (e *ChunkEncoder) WriteEvent(w io.Writer, ev Event) error {
	if ev.Type == EventDone {
		_, err := io.WriteString(w, doneFrame)
		return err
	}
	data, err := json.Marshal(e.Chunk(ev))
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
