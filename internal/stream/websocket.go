package stream

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketHandler pushes session events to WebSocket observers.
type WebSocketHandler struct {
	hub           *Hub
	viewers       *Viewers
	allowedOrigin string
	isDev         bool
	keepalive     time.Duration
}

// NewWebSocketHandler creates a WebSocket observer handler.
func NewWebSocketHandler(hub *Hub, viewers *Viewers, allowedOrigin string, isDev bool, keepalive time.Duration) *WebSocketHandler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &WebSocketHandler{hub: hub, viewers: viewers, allowedOrigin: allowedOrigin, isDev: isDev, keepalive: keepalive}
}

// ServeHTTP upgrades the request and streams events of ?session_id=.
// An empty session id streams every session.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.viewers.Register(sessionID, ws)
	defer h.viewers.Unregister(sessionID, ws)

	// Observers never send data; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := ws.CloseRead(r.Context())

	sub := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(sub)

	var last int64
	if raw := r.URL.Query().Get("last_event_id"); raw != "" && sessionID != "" {
		if after, err := strconv.ParseInt(raw, 10, 64); err == nil {
			for _, ev := range h.hub.Replay(sessionID, after) {
				if err := h.write(ctx, ws, ev); err != nil {
					return
				}
				last = ev.ID
			}
		}
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("WebSocket observer gone", "session_id", sessionID)
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.ID <= last {
				continue
			}
			if err := h.write(ctx, ws, ev); err != nil {
				slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				return
			}
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
