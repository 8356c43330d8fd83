package agent

import (
	"context"

	"github.com/ashureev/shsh-operator/internal/domain"
)

// Fragment is one incremental piece of a streamed completion.
type Fragment struct {
	Content   string
	ToolCalls []ToolCallFragment
}

// CompletionRequest is one step's request to the upstream model.
type CompletionRequest struct {
	Model    string
	Messages []domain.Message
	Sampling domain.Sampling
}

// CompletionStream yields fragments in arrival order.
type CompletionStream interface {
	Next() bool
	Current() Fragment
	Err() error
	Close() error
}

// CompletionProvider opens streaming completions. Stream returns an error when
// no stream could be obtained (connection, auth or rate-limit failures). The
// fixed tool schema is always advertised.
type CompletionProvider interface {
	Stream(ctx context.Context, req CompletionRequest) (CompletionStream, error)
}
