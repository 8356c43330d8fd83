package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/ashureev/shsh-operator/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunsRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "operator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	r := chi.NewRouter()
	NewRunsHandler(repo).RegisterRoutes(r)
	return r, repo
}

func seedRun(t *testing.T, repo *store.SQLiteStore, id string) {
	t.Helper()
	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, repo.CreateRun(ctx, &domain.Run{ID: id, ClientID: "c", Model: "m", MaxSteps: 25, State: domain.StateRunning, StartedAt: started}))
	entry := domain.NewAuditEntry(started, id, "ls", "", domain.CommandOutcome{Stdout: "a.txt"})
	require.NoError(t, repo.AppendAudit(ctx, &entry))
}

func TestRunsEndpoints(t *testing.T) {
	router, repo := newRunsRouter(t)
	seedRun(t, repo, "chatcmpl-a")
	seedRun(t, repo, "chatcmpl-b")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []domain.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1, "limit applies")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/chatcmpl-a", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "chatcmpl-a", run.ID)
	assert.Equal(t, domain.StateRunning, run.State)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit?run_id=chatcmpl-b", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var audit struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, "chatcmpl-b", audit.Entries[0].RunID)
	assert.Equal(t, "ls", audit.Entries[0].Command)
}

func TestRunsRejectsBadLimit(t *testing.T) {
	router, _ := newRunsRouter(t)

	for _, path := range []string{"/runs?limit=abc", "/audit?limit=-5"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
