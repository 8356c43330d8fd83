package domain

import "time"

// RunState is the agent loop state.
type RunState string

const (
	StateRunning        RunState = "RUNNING"
	StateAwaitingModel  RunState = "AWAITING_MODEL"
	StateExecutingTools RunState = "EXECUTING_TOOLS"
	StateDone           RunState = "DONE"
	StateLimitReached   RunState = "LIMIT_REACHED"
	StateFailed         RunState = "FAILED"
)

// Terminal reports whether s ends a run.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateLimitReached || s == StateFailed
}

// Run is the operations record of one chat request.
type Run struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"client_id"`
	Model      string     `json:"model"`
	MaxSteps   int        `json:"max_steps"`
	Steps      int        `json:"steps"`
	State      RunState   `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the elapsed run time, or 0 while running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
