package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ActiveRun describes a run that is still streaming.
type ActiveRun struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

type activeEntry struct {
	info   ActiveRun
	cancel context.CancelFunc
}

// RunRegistry tracks active runs so they can be listed and cancelled.
type RunRegistry struct {
	mu     sync.RWMutex
	active map[string]*activeEntry
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{active: make(map[string]*activeEntry)}
}

// Register adds a run with its cancel func.
func (r *RunRegistry) Register(info ActiveRun, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[info.ID] = &activeEntry{info: info, cancel: cancel}
	slog.Debug("Run registered", "run_id", info.ID, "client_id", info.ClientID)
}

// Unregister removes a run.
func (r *RunRegistry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, runID)
}

// Cancel aborts a run owned by clientID. It reports whether such a run was
// active; runs of other clients are treated as absent.
func (r *RunRegistry) Cancel(runID, clientID string) bool {
	r.mu.RLock()
	entry, ok := r.active[runID]
	r.mu.RUnlock()
	if !ok || entry.info.ClientID != clientID {
		return false
	}
	entry.cancel()
	slog.Info("Run cancelled by request", "run_id", runID, "client_id", clientID)
	return true
}

// List returns a snapshot of the active runs owned by clientID.
func (r *RunRegistry) List(clientID string) []ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveRun, 0, len(r.active))
	for _, e := range r.active {
		if e.info.ClientID == clientID {
			out = append(out, e.info)
		}
	}
	return out
}

// CancelAll aborts every active run, used at shutdown.
func (r *RunRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.active {
		e.cancel()
		slog.Info("Run cancelled at shutdown", "run_id", id)
	}
}
