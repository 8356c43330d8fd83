package agent

import (
	"context"
	"fmt"

	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// OpenAIProvider streams completions from an OpenAI-compatible endpoint such
// as OpenRouter.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider. Retries are disabled: a failed step
// is fatal to the run.
func NewOpenAIProvider(baseURL, apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &OpenAIProvider{client: openai.NewClient(append(base, opts...)...)}
}

// Stream opens a streaming completion and waits for the first chunk so that
// connection, auth and rate-limit failures surface as an error here.
func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (CompletionStream, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, buildParams(req))

	s := &openAIStream{stream: stream}
	if stream.Next() {
		s.primed = true
		return s, nil
	}
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return s, nil
}

func buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(req.Model),
		Messages:         toOpenAIMessages(req.Messages),
		Tools:            []openai.ChatCompletionToolUnionParam{commandTool()},
		ToolChoice:       openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")},
		Temperature:      openai.Float(req.Sampling.Temperature),
		TopP:             openai.Float(req.Sampling.TopP),
		FrequencyPenalty: openai.Float(req.Sampling.FrequencyPenalty),
		PresencePenalty:  openai.Float(req.Sampling.PresencePenalty),
	}
}

func commandTool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        ToolName,
		Description: openai.String(ToolDescription),
		Parameters:  openai.FunctionParameters(ToolParameters()),
	})
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case domain.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case domain.RoleAssistant:
			out = append(out, assistantMessage(m))
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		}
	}
	return out
}

func assistantMessage(m domain.Message) openai.ChatCompletionMessageParamUnion {
	msg := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != nil {
		msg.Content.OfString = openai.String(*m.Content)
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

// openAIStream adapts the SDK stream, replaying the chunk read by Stream.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	primed bool
	cur    Fragment
}

func (s *openAIStream) Next() bool {
	for {
		if s.primed {
			s.primed = false
		} else if !s.stream.Next() {
			return false
		}
		if frag, ok := toFragment(s.stream.Current()); ok {
			s.cur = frag
			return true
		}
	}
}

func (s *openAIStream) Current() Fragment {
	return s.cur
}

func (s *openAIStream) Err() error {
	return s.stream.Err()
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// toFragment converts a chunk; chunks without choices are skipped.
func toFragment(chunk openai.ChatCompletionChunk) (Fragment, bool) {
	if len(chunk.Choices) == 0 {
		return Fragment{}, false
	}
	delta := chunk.Choices[0].Delta
	frag := Fragment{Content: delta.Content}
	for _, tc := range delta.ToolCalls {
		frag.ToolCalls = append(frag.ToolCalls, ToolCallFragment{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return frag, true
}
