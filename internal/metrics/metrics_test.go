package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunFinished("DONE", 3)
	m.UpstreamFailed()
	m.CommandExecuted("ok", 150*time.Millisecond)
	m.CommandExecuted("timeout", time.Minute)
	m.AuditWriteFailed()
	m.RateLimited()
	m.SandboxStatus(true)

	body := scrape(t, m)
	for _, want := range []string{
		`operator_runs_total{state="DONE"} 1`,
		`operator_runs_active 0`,
		`operator_upstream_errors_total 1`,
		`operator_commands_total{class="ok"} 1`,
		`operator_commands_total{class="timeout"} 1`,
		`operator_audit_write_errors_total 1`,
		`operator_rate_limited_total 1`,
		`operator_sandbox_up 1`,
		`operator_command_duration_seconds_bucket{class="ok",le="0.5"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RunStarted()
	m.RunFinished("FAILED", 1)
	m.UpstreamFailed()
	m.CommandExecuted("error", time.Second)
	m.AuditWriteFailed()
	m.RateLimited()
	assert.NotPanics(t, func() { m.SandboxStatus(false) })
}
