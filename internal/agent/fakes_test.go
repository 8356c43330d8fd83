package agent

import (
	"context"
	"sync"

	"github.com/ashureev/shsh-operator/internal/domain"
)

type scriptedStep struct {
	frags     []Fragment
	openErr   error
	streamErr error
}

// fakeProvider replays scripted steps; once exhausted it repeats `repeat` if
// set, otherwise it returns empty streams.
type fakeProvider struct {
	mu       sync.Mutex
	steps    []scriptedStep
	repeat   *scriptedStep
	requests []CompletionRequest
}

func (p *fakeProvider) Stream(_ context.Context, req CompletionRequest) (CompletionStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := req
	snapshot.Messages = append([]domain.Message(nil), req.Messages...)
	p.requests = append(p.requests, snapshot)

	var step scriptedStep
	switch {
	case len(p.steps) > 0:
		step = p.steps[0]
		p.steps = p.steps[1:]
	case p.repeat != nil:
		step = *p.repeat
	}
	if step.openErr != nil {
		return nil, step.openErr
	}
	return &fakeStream{frags: step.frags, err: step.streamErr}, nil
}

func (p *fakeProvider) Requests() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompletionRequest(nil), p.requests...)
}

type fakeStream struct {
	frags  []Fragment
	pos    int
	cur    Fragment
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.frags) {
		return false
	}
	s.cur = s.frags[s.pos]
	s.pos++
	return true
}

func (s *fakeStream) Current() Fragment { return s.cur }

func (s *fakeStream) Err() error {
	if s.pos < len(s.frags) {
		return nil
	}
	return s.err
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type execCall struct {
	command string
	input   string
}

type fakeExecutor struct {
	mu       sync.Mutex
	openErr  error
	outcomes map[string]domain.CommandOutcome
	onRun    func(ctx context.Context, command string) (domain.CommandOutcome, bool)
	calls    []execCall
	opened   int
}

func (e *fakeExecutor) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened++
	return e.openErr
}

func (e *fakeExecutor) Run(ctx context.Context, command, input string) domain.CommandOutcome {
	e.mu.Lock()
	e.calls = append(e.calls, execCall{command: command, input: input})
	onRun := e.onRun
	outcome, ok := e.outcomes[command]
	e.mu.Unlock()

	if onRun != nil {
		if out, handled := onRun(ctx, command); handled {
			return out
		}
	}
	if ok {
		return outcome
	}
	return domain.CommandOutcome{ExitCode: 0}
}

func (e *fakeExecutor) Calls() []execCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execCall(nil), e.calls...)
}

func toolCall(index int, id, args string) Fragment {
	return Fragment{ToolCalls: []ToolCallFragment{{Index: index, ID: id, Name: ToolName, Arguments: args}}}
}

func collect(seq func(func(Event) bool)) []Event {
	var events []Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func testConfig() Config {
	return Config{
		DefaultModel:        "test-model",
		MaxSteps:            25,
		ContainerSharedPath: "/root/data",
		HostSharedPath:      "./shared_data",
	}
}

func userRequest(text string) domain.ChatRequest {
	return domain.ChatRequest{Messages: []domain.Message{domain.UserMessage(text)}}
}
