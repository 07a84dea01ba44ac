// Package api provides HTTP handlers for the backroom control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/session"
	"github.com/ashureev/backroom/internal/store"
)

// Sessions is the session lifecycle the handlers drive.
type Sessions interface {
	Start(ctx context.Context, cfg domain.ScenarioConfig) (string, error)
	Stop(id string) bool
	Info(id string) (domain.SessionInfo, bool)
	List() []domain.SessionInfo
	History(ctx context.Context, id string, limit int) ([]domain.Turn, error)
	Presets() []domain.ScenarioConfig
}

// Handler provides common handler utilities.
type Handler struct {
	sessions Sessions
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions Sessions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidScenario):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
