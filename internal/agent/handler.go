package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/shsh-operator/internal/api"
	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/ashureev/shsh-operator/internal/identity"
	"github.com/ashureev/shsh-operator/internal/metrics"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
	Metrics            *metrics.Metrics
}

// Handler serves the chat endpoints over SSE and WebSocket.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	maxBodySize int64
	wsOrigins   []string
	metrics     *metrics.Metrics
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHandler creates a handler around svc.
func NewHandler(svc *Service, opts HandlerOptions) *Handler {
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	h := &Handler{
		svc:         svc,
		rateLimiter: NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		maxBodySize: opts.MaxRequestBodySize,
		wsOrigins:   wsOriginPatterns(opts.AllowedOrigins),
		metrics:     opts.Metrics,
		done:        make(chan struct{}),
	}
	h.rateLimiter.StartEviction(h.done)
	return h
}

// wsOriginPatterns converts CORS origins to host patterns for the WebSocket
// origin check.
func wsOriginPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// RegisterRoutes registers chat and run-control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/completions", h.HandleChatCompletions)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.HandleChatCompletions)
		r.Get("/chat/ws", h.HandleWebSocket)
		r.Get("/runs", h.HandleListActive)
		r.Delete("/runs/{runID}", h.HandleAbort)
	})
}

// Close stops background work and cancels active runs. It is idempotent.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.svc.Close()
	})
}

// allow applies the per-client rate limit, writing 429 when exceeded.
func (h *Handler) allow(w http.ResponseWriter, clientID string) bool {
	if h.rateLimiter.Allow(clientID) {
		return true
	}
	h.metrics.RateLimited()
	slog.Warn("Rate limit exceeded", "client_id", clientID)
	api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// decodeChatRequest reads and validates a chat request body.
func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := req.Validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// HandleChatCompletions handles POST /v1/chat/completions and streams the run
// as chat-completion chunks over SSE.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if !h.allow(w, clientID) {
		return
	}

	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	run := h.svc.Start(r.Context(), ChatRequest{ChatRequest: req, ClientID: clientID})
	slog.Info("Chat completion request",
		"run_id", run.ID,
		"client_id", clientID,
		"model", run.Model,
		"messages", len(req.Messages),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(identity.RunHeaderName, run.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := NewChunkEncoder(run.ID, run.Model, run.Created)
	for ev := range run.Events {
		if err := enc.WriteEvent(w, ev); err != nil {
			slog.Warn("Failed to write SSE event", "run_id", run.ID, "error", err)
			break
		}
		flusher.Flush()
	}
}

// HandleListActive handles GET /v1/runs. Only the caller's runs are listed.
func (h *Handler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	api.JSON(w, http.StatusOK, map[string]any{"runs": h.svc.Runs().List(clientID)})
}

// HandleAbort handles DELETE /v1/runs/{runID}. Runs owned by another client
// answer 404.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !h.svc.Runs().Cancel(runID, identity.ClientIDFromContext(r.Context())) {
		api.Error(w, http.StatusNotFound, "run not active")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
