package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/ashureev/shsh-operator/internal/identity"
	"github.com/coder/websocket"
)

const (
	// wsRequestTimeout bounds the wait for the initial chat request message.
	wsRequestTimeout = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// wsMessage is a client control message.
type wsMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket handles GET /v1/chat/ws. The client sends one chat request
// and receives events; {"type":"abort"} or closing the socket cancels the run.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if !h.allow(w, clientID) {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigins,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	ws.SetReadLimit(h.maxBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "run ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	req, err := readChatRequest(ctx, ws)
	if err != nil {
		slog.Warn("Invalid WebSocket chat request", "error", err, "client_id", clientID)
		_ = writeEvent(ctx, ws, Event{Type: EventError, Content: err.Error()})
		_ = writeEvent(ctx, ws, Event{Type: EventDone})
		return
	}

	run := h.svc.Start(ctx, ChatRequest{ChatRequest: req, ClientID: clientID})
	slog.Info("WebSocket chat started", "run_id", run.ID, "client_id", clientID, "model", run.Model)

	go h.watchControl(ctx, ws, cancel, run.ID)

	for ev := range run.Events {
		if err := writeEvent(ctx, ws, ev); err != nil {
			slog.Debug("Failed to write WebSocket event", "run_id", run.ID, "error", err)
			break
		}
	}
}

func readChatRequest(ctx context.Context, ws *websocket.Conn) (domain.ChatRequest, error) {
	readCtx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	defer cancel()

	var req domain.ChatRequest
	_, data, err := ws.Read(readCtx)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// watchControl cancels the run on an abort message or when the client goes
// away.
func (h *Handler) watchControl(ctx context.Context, ws *websocket.Conn, cancel context.CancelFunc, runID string) {
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "run_id", runID)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "abort" {
			slog.Info("Run aborted by WebSocket client", "run_id", runID)
			return
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// The terminal marker is written even after cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
