package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/shsh-operator/internal/domain"
)

const (
	// warningWindow is how many remaining steps trigger the budget warning.
	warningWindow = 3

	limitMessage        = "\n[System: Execution limit reached. Halting process]"
	commandStartPrefix  = "> "
	commandResultPrefix = "< "
)

// ErrStreamAbandoned is recorded when the consumer stops iterating.
var ErrStreamAbandoned = errors.New("stream abandoned by consumer")

// Executor runs commands for the loop. Implementations never fail a command;
// every problem is folded into the returned outcome.
type Executor interface {
	Open(ctx context.Context) error
	Run(ctx context.Context, command, input string) domain.CommandOutcome
}

// Session is the conversational state of one run. It is owned by a single
// Loop.Run invocation and must not be shared.
type Session struct {
	ID        string
	Model     string
	Messages  []domain.Message
	Sampling  domain.Sampling
	MaxSteps  int
	StepCount int
	State     domain.RunState
	Err       error
}

// NewSession builds a session with the system prompt prepended to history.
func NewSession(id string, cfg Config, req domain.ChatRequest) *Session {
	model := req.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	messages := make([]domain.Message, 0, len(req.Messages)+1)
	messages = append(messages, domain.SystemMessage(SystemPrompt(cfg)))
	messages = append(messages, req.Messages...)

	return &Session{
		ID:       id,
		Model:    model,
		Messages: messages,
		Sampling: req.Sampling(),
		MaxSteps: cfg.MaxSteps,
		State:    domain.StateRunning,
	}
}

func (s *Session) finish(state domain.RunState, err error) {
	s.State = state
	s.Err = err
}

// Loop drives the step state machine against a completion provider.
type Loop struct {
	provider CompletionProvider
	log      *slog.Logger
}

// NewLoop creates a loop. logger may be nil.
func NewLoop(provider CompletionProvider, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{provider: provider, log: logger}
}

// Run executes sess to a terminal state, yielding events in order. The
// sequence always ends with exactly one EventDone unless the consumer stops
// early. Closing the executor is the caller's responsibility.
func (l *Loop) Run(ctx context.Context, sess *Session, exec Executor) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		log := l.log.With("run_id", sess.ID)
		emit := func(e Event) bool {
			if yield(e) {
				return true
			}
			if !sess.State.Terminal() {
				sess.finish(domain.StateFailed, ErrStreamAbandoned)
			}
			return false
		}

		if err := exec.Open(ctx); err != nil {
			log.Error("Remote session unavailable", "error", err)
			sess.finish(domain.StateFailed, err)
			if emit(Event{Type: EventError, Content: err.Error()}) {
				emit(Event{Type: EventDone})
			}
			return
		}

		for sess.StepCount < sess.MaxSteps {
			if err := ctx.Err(); err != nil {
				l.abort(log, sess, err, emit)
				return
			}

			log.Info("Processing agent step", "step", sess.StepCount+1, "max_steps", sess.MaxSteps)

			if remaining := sess.MaxSteps - sess.StepCount; remaining <= warningWindow {
				sess.Messages = append(sess.Messages, domain.SystemMessage(budgetWarning(remaining)))
			}

			sess.State = domain.StateAwaitingModel
			text, calls, err := l.step(ctx, sess, emit)
			if errors.Is(err, ErrStreamAbandoned) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					l.abort(log, sess, ctx.Err(), emit)
					return
				}
				log.Error("Upstream completion failed", "step", sess.StepCount+1, "error", err)
				sess.finish(domain.StateFailed, err)
				if emit(Event{Type: EventError, Content: err.Error()}) {
					emit(Event{Type: EventDone})
				}
				return
			}

			if len(calls) == 0 {
				log.Info("Agent decided to stop execution", "steps", sess.StepCount)
				sess.finish(domain.StateDone, nil)
				emit(Event{Type: EventDone})
				return
			}

			sess.Messages = append(sess.Messages, domain.AssistantMessage(text, calls))
			sess.State = domain.StateExecutingTools

			for _, call := range calls {
				if err := ctx.Err(); err != nil {
					l.abort(log, sess, err, emit)
					return
				}
				content, answered, cont := l.invoke(ctx, log, exec, call, emit)
				if answered {
					sess.Messages = append(sess.Messages, domain.ToolResultMessage(call.ID, content))
				}
				if !cont {
					return
				}
			}

			sess.StepCount++
			sess.State = domain.StateRunning
		}

		log.Warn("Execution limit reached", "max_steps", sess.MaxSteps)
		sess.finish(domain.StateLimitReached, nil)
		if emit(Event{Type: EventContent, Content: limitMessage}) {
			emit(Event{Type: EventDone})
		}
	}
}

// step requests one completion and consumes it. It returns ErrStreamAbandoned
// when the consumer stopped iterating.
func (l *Loop) step(ctx context.Context, sess *Session, emit func(Event) bool) (string, []domain.ToolInvocation, error) {
	stream, err := l.provider.Stream(ctx, CompletionRequest{
		Model:    sess.Model,
		Messages: sess.Messages,
		Sampling: sess.Sampling,
	})
	if err != nil {
		return "", nil, err
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			l.log.Debug("Failed to close completion stream", "run_id", sess.ID, "error", closeErr)
		}
	}()

	var text strings.Builder
	var acc Accumulator
	for stream.Next() {
		frag := stream.Current()
		if frag.Content != "" {
			text.WriteString(frag.Content)
			if !emit(Event{Type: EventContent, Content: frag.Content}) {
				return "", nil, ErrStreamAbandoned
			}
		}
		for _, tc := range frag.ToolCalls {
			acc.Add(tc)
		}
	}
	if err := stream.Err(); err != nil {
		return "", nil, fmt.Errorf("read completion stream: %w", err)
	}
	return text.String(), acc.Finish(), nil
}

// invoke handles one tool call and returns the tool-role content. answered
// is false when the call produced no result because the consumer stopped
// before the command ran. cont is false when the consumer stopped iterating.
func (l *Loop) invoke(ctx context.Context, log *slog.Logger, exec Executor, call domain.ToolInvocation, emit func(Event) bool) (content string, answered, cont bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Tool invocation panicked", "tool_call_id", call.ID, "panic", r)
			content = fmt.Sprintf(internalErrorTemplate, r)
			answered, cont = true, true
		}
	}()

	if call.Name != ToolName {
		log.Warn("Model requested unknown tool", "tool", call.Name, "tool_call_id", call.ID)
		return unknownToolPrefix + fmt.Sprintf("%q", call.Name), true, true
	}

	args, err := ParseCommandArgs(call.Arguments)
	if err != nil {
		log.Warn("Rejected tool arguments", "tool_call_id", call.ID, "error", err)
		return argumentErrorContent(err), true, true
	}

	if !emit(Event{Type: EventCommandStart, Content: commandStartPrefix + args.Command}) {
		log.Info("Consumer left before command ran", "tool_call_id", call.ID)
		return "", false, false
	}
	outcome := exec.Run(ctx, args.Command, args.InputData)
	cont = emit(Event{Type: EventCommandResult, Content: commandResultPrefix + outcome.Display()})
	return outcome.ToolContent(), true, cont
}

// abort ends a cancelled run. No further content is produced; only the
// terminal marker is emitted.
func (l *Loop) abort(log *slog.Logger, sess *Session, err error, emit func(Event) bool) {
	log.Info("Run cancelled", "steps", sess.StepCount, "reason", err)
	sess.finish(domain.StateFailed, err)
	emit(Event{Type: EventDone})
}
