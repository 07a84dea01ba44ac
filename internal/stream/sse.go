package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backroom/internal/domain"
)

// SSEHandler streams session events as Server-Sent Events.
type SSEHandler struct {
	hub        *Hub
	keepalive  time.Duration
	retryDelay time.Duration
}

// NewSSEHandler creates an SSE handler.
func NewSSEHandler(hub *Hub, keepalive time.Duration) *SSEHandler {
	if keepalive <= 0 {
		keepalive = 10 * time.Second
	}
	return &SSEHandler{hub: hub, keepalive: keepalive, retryDelay: 5 * time.Second}
}

func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// ServeHTTP streams events of the session named by the {id} route parameter.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	// Subscribe before replaying so nothing published in between is lost.
	sub := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(sub)

	last := lastEventID(r)
	if last > 0 {
		for _, ev := range h.hub.Replay(sessionID, last) {
			if err := writeEvent(w, ev); err != nil {
				return
			}
			last = ev.ID
		}
		flusher.Flush()
	}

	slog.Info("SSE observer connected", "session_id", sessionID, "reconnect", last > 0)
	defer slog.Info("SSE observer disconnected", "session_id", sessionID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.ID <= last {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				slog.Debug("SSE write failed", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writeSSEWithID(w, ev.ID, string(ev.Type), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
