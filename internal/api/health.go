package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backroom/internal/domain"
)

// Pinger reports whether the turn store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports readiness of the store and the session count.
type HealthHandler struct {
	pinger   Pinger
	sessions Sessions
	started  time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(p Pinger, sessions Sessions) *HealthHandler {
	return &HealthHandler{pinger: p, sessions: sessions, started: time.Now()}
}

// RegisterHealth registers the readiness endpoint.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Ready)
}

// Ready returns 200 when the store answers a ping, 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	running := 0
	for _, info := range h.sessions.List() {
		if info.Status == domain.StatusRunning {
			running++
		}
	}

	body := map[string]interface{}{
		"status":           "ok",
		"store":            "ok",
		"sessions_running": running,
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
	}
	if err := h.pinger.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["store"] = err.Error()
		JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	JSON(w, http.StatusOK, body)
}
