package agent

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/shsh-operator/internal/audit"
	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/ashureev/shsh-operator/internal/metrics"
	"github.com/ashureev/shsh-operator/internal/remote"
	"github.com/ashureev/shsh-operator/internal/store"
	"github.com/google/uuid"
)

const runIDPrefix = "chatcmpl-"

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Config      Config
	Provider    CompletionProvider
	Dial        remote.Dialer
	Recorder    audit.Recorder
	Repo        store.Repository
	Runs        *RunRegistry
	Transcripts ConversationLogger
	Metrics     *metrics.Metrics
	Exec        remote.Options
	Logger      *slog.Logger
}

// Service runs one agent loop per chat request.
type Service struct {
	cfg         Config
	loop        *Loop
	dial        remote.Dialer
	recorder    audit.Recorder
	repo        store.Repository
	runs        *RunRegistry
	transcripts ConversationLogger
	metrics     *metrics.Metrics
	exec        remote.Options
	log         *slog.Logger
	now         func() time.Time
}

// NewService creates a new agent service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("completion provider is required")
	}
	if opts.Dial == nil {
		return nil, errors.New("remote dialer is required")
	}
	if opts.Config.MaxSteps <= 0 {
		return nil, errors.New("max steps must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runs == nil {
		opts.Runs = NewRunRegistry()
	}
	if opts.Transcripts == nil {
		opts.Transcripts = noopConversationLogger{}
	}

	return &Service{
		cfg:         opts.Config,
		loop:        NewLoop(opts.Provider, opts.Logger),
		dial:        opts.Dial,
		recorder:    opts.Recorder,
		repo:        opts.Repo,
		runs:        opts.Runs,
		transcripts: opts.Transcripts,
		metrics:     opts.Metrics,
		exec:        opts.Exec,
		log:         opts.Logger,
		now:         time.Now,
	}, nil
}

// Runs returns the registry of active runs.
func (s *Service) Runs() *RunRegistry {
	return s.runs
}

// Run is a started chat run. Events must be consumed exactly once.
type Run struct {
	ID      string
	Model   string
	Created time.Time
	Events  iter.Seq[Event]

	session *Session
}

// State returns the run state; terminal once Events has been drained.
func (r *Run) State() domain.RunState {
	return r.session.State
}

// Steps returns the completed step count.
func (r *Run) Steps() int {
	return r.session.StepCount
}

// Start registers a new run for req. The run is cancelled when ctx ends or
// when it is aborted through the registry.
func (s *Service) Start(ctx context.Context, req ChatRequest) *Run {
	id := runIDPrefix + uuid.NewString()
	created := s.now()
	sess := NewSession(id, s.cfg, req.ChatRequest)

	runCtx, cancel := context.WithCancel(ctx)
	s.runs.Register(ActiveRun{ID: id, ClientID: req.ClientID, Model: sess.Model, StartedAt: created}, cancel)

	run := &Run{ID: id, Model: sess.Model, Created: created, session: sess}
	run.Events = func(yield func(Event) bool) {
		defer cancel()
		defer s.runs.Unregister(id)
		s.execute(runCtx, req.ClientID, req.LastUserText(), sess, created, yield)
	}
	return run
}

func (s *Service) execute(ctx context.Context, clientID, userText string, sess *Session, started time.Time, yield func(Event) bool) {
	log := s.log.With("run_id", sess.ID, "client_id", clientID)
	log.Info("Agent run started", "model", sess.Model, "max_steps", sess.MaxSteps, "messages", len(sess.Messages)-1)

	s.recordStart(ctx, log, clientID, sess, started)
	s.metrics.RunStarted()
	s.transcript(clientID, sess.ID, "outbound", "chat_user_message", userText, map[string]any{"model": sess.Model})

	opts := s.exec
	opts.RunID = sess.ID
	opts.Logger = s.log
	if opts.Observer == nil && s.metrics != nil {
		opts.Observer = s.metrics
	}
	executor := remote.NewSession(s.dial(), s.recorder, opts)
	defer func() {
		if err := executor.Close(); err != nil {
			log.Warn("Failed to close remote session", "error", err)
		}
	}()

	var assistant strings.Builder
	chunks := 0
	for ev := range s.loop.Run(ctx, sess, executor) {
		switch ev.Type {
		case EventContent:
			chunks++
			assistant.WriteString(ev.Content)
		case EventCommandStart, EventCommandResult:
			s.transcript(clientID, sess.ID, "inbound", "chat_"+string(ev.Type), ev.Content, nil)
		}
		if !yield(ev) {
			break
		}
	}

	s.finish(log, clientID, sess, assistant.String(), chunks)
}

func (s *Service) recordStart(ctx context.Context, log *slog.Logger, clientID string, sess *Session, started time.Time) {
	if s.repo == nil {
		return
	}
	run := &domain.Run{
		ID:        sess.ID,
		ClientID:  clientID,
		Model:     sess.Model,
		MaxSteps:  sess.MaxSteps,
		State:     domain.StateRunning,
		StartedAt: started,
	}
	if err := s.repo.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record run start", "error", err)
	}
}

func (s *Service) finish(log *slog.Logger, clientID string, sess *Session, assistant string, chunks int) {
	if !sess.State.Terminal() {
		sess.finish(domain.StateFailed, ErrStreamAbandoned)
	}
	errMsg := ""
	if sess.Err != nil {
		errMsg = sess.Err.Error()
	}

	if isUpstreamFailure(sess) {
		s.metrics.UpstreamFailed()
	}
	s.metrics.RunFinished(string(sess.State), sess.StepCount)

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.FinishRun(ctx, sess.ID, sess.State, sess.StepCount, errMsg, s.now()); err != nil {
			log.Warn("Failed to record run finish", "error", err)
		}
	}

	s.transcript(clientID, sess.ID, "inbound", "chat_assistant_message", assistant, map[string]any{
		"stream_chunks": chunks,
		"state":         string(sess.State),
		"steps":         sess.StepCount,
		"error":         errMsg,
	})

	log.Info("Agent run finished", "state", sess.State, "steps", sess.StepCount, "error", errMsg)
}

// isUpstreamFailure reports whether a failed run failed at the provider.
func isUpstreamFailure(sess *Session) bool {
	if sess.State != domain.StateFailed || sess.Err == nil {
		return false
	}
	return !errors.Is(sess.Err, remote.ErrConnection) &&
		!errors.Is(sess.Err, ErrStreamAbandoned) &&
		!errors.Is(sess.Err, context.Canceled)
}

func (s *Service) transcript(clientID, runID, direction, eventType, content string, meta map[string]any) {
	s.transcripts.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		ClientID:   clientID,
		RunID:      runID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// Close cancels active runs and flushes transcripts.
func (s *Service) Close() {
	s.runs.CancelAll()
	if err := s.transcripts.Close(); err != nil {
		s.log.Warn("Failed to close conversation logger", "error", err)
	}
}
