package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/shsh-operator/internal/store"
	"github.com/go-chi/chi/v5"
)

// RunsHandler exposes run records and the audit trail.
type RunsHandler struct {
	repo store.Repository
}

// NewRunsHandler creates a handler over repo.
func NewRunsHandler(repo store.Repository) *RunsHandler {
	return &RunsHandler{repo: repo}
}

// RegisterRoutes registers the run history routes.
func (h *RunsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{runID}", h.GetRun)
	r.Get("/audit", h.ListAudit)
}

// ListRuns handles GET /runs?limit=N.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun handles GET /runs/{runID}.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		slog.Error("Failed to get run", "run_id", runID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}
	JSON(w, http.StatusOK, run)
}

// ListAudit handles GET /audit?run_id=ID&limit=N.
func (h *RunsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	entries, err := h.repo.ListAudit(r.Context(), store.AuditFilter{
		RunID: r.URL.Query().Get("run_id"),
		Limit: limit,
	})
	if err != nil {
		slog.Error("Failed to list audit entries", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
