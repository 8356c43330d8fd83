package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-operator/internal/audit"
	"github.com/ashureev/shsh-operator/internal/domain"
)

const (
	// DefaultCommandTimeout bounds a single command.
	DefaultCommandTimeout = 60 * time.Second

	defaultMaxOutputBytes = 1 << 20
)

// Observer receives execution measurements.
type Observer interface {
	CommandExecuted(class string, elapsed time.Duration)
	AuditWriteFailed()
}

type noopObserver struct{}

func (noopObserver) CommandExecuted(string, time.Duration) {}
func (noopObserver) AuditWriteFailed()                     {}

// Outcome classes reported to the Observer.
const (
	ClassOK      = "ok"
	ClassNonZero = "nonzero"
	ClassTimeout = "timeout"
	ClassError   = "error"
)

// Options configures a Session.
type Options struct {
	RunID          string
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         *slog.Logger
	Observer       Observer
}

// Session owns one transport for the lifetime of one run. Run never returns an
// error: every failure is folded into the CommandOutcome.
type Session struct {
	transport Transport
	recorder  audit.Recorder
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	open   bool
	closed bool
}

// NewSession wraps a transport. recorder may be nil.
func NewSession(t Transport, recorder audit.Recorder, opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCommandTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	return &Session{
		transport: t,
		recorder:  recorder,
		opts:      opts,
		log:       logger,
		now:       time.Now,
	}
}

// Open connects the transport. Failures wrap ErrConnection.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx)
}

func (s *Session) openLocked(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("%w: session already closed", ErrConnection)
	}
	if s.open {
		return nil
	}
	s.log.Info("Initiating remote session")
	if err := s.transport.Connect(ctx); err != nil {
		s.log.Error("Remote session connection failed", "error", err, "critical", true)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.open = true
	s.log.Info("Remote session established")
	return nil
}

// Run executes command with optional stdin under the session timeout and
// always writes one audit entry.
func (s *Session) Run(ctx context.Context, command, input string) domain.CommandOutcome {
	if input != "" && !strings.HasSuffix(input, "\n") {
		input += "\n"
	}

	started := s.now()
	outcome, class := s.execute(ctx, command, input)
	s.opts.Observer.CommandExecuted(class, s.now().Sub(started))

	entry := domain.NewAuditEntry(started, s.opts.RunID, command, input, outcome)
	if s.recorder != nil {
		if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
			s.opts.Observer.AuditWriteFailed()
			s.log.Warn("Failed to write audit log", "error", err)
		}
	}
	return outcome
}

func (s *Session) execute(ctx context.Context, command, input string) (domain.CommandOutcome, string) {
	s.mu.Lock()
	err := s.openLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return domain.FailureOutcome(err), ClassError
	}

	s.log.Info("Executing command", "command", command)

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var stdin io.Reader
	if input != "" {
		stdin = strings.NewReader(input)
	}
	stdout := NewOutputBuffer(s.opts.MaxOutputBytes)
	stderr := NewOutputBuffer(s.opts.MaxOutputBytes)

	code, err := s.transport.Exec(runCtx, command, stdin, stdout, stderr)
	switch {
	case err == nil:
		outcome := domain.CommandOutcome{
			ExitCode: code,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
		if dropped := stdout.Dropped() + stderr.Dropped(); dropped > 0 {
			s.log.Warn("Command output truncated", "command", command, "dropped_bytes", dropped)
		}
		if code != 0 {
			return outcome, ClassNonZero
		}
		return outcome, ClassOK
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		s.log.Error("Command execution timed out", "command", command, "timeout", s.opts.Timeout)
		return domain.TimeoutOutcome(), ClassTimeout
	default:
		s.log.Error("Execution failure", "command", command, "error", err)
		return domain.FailureOutcome(err), ClassError
	}
}

// Close releases the transport. It is idempotent and safe before Open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.open {
		return nil
	}
	s.open = false
	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("close remote session: %w", err)
	}
	s.log.Info("Remote session closed")
	return nil
}
