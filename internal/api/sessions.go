package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/identity"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	maxStartBodyBytes   = 1 << 20
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes. Mutating routes go through guard.
func (h *SessionHandler) RegisterRoutes(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/presets", h.ListPresets)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/history", h.GetHistory)

		r.Group(func(r chi.Router) {
			if guard != nil {
				r.Use(guard)
			}
			r.Post("/sessions", h.StartSession)
			r.Post("/sessions/{id}/stop", h.StopSession)
		})
	})
}

type startRequest struct {
	domain.ScenarioConfig
	ScenarioID string `json:"scenario_id,omitempty"`
}

// StartSession starts or resumes a scenario. The body is either a full
// scenario config or {"scenario_id": "..."} naming a preset or stored scenario.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBodyBytes))
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := req.ScenarioConfig
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = strings.TrimSpace(req.ScenarioID)
	}
	if cfg.ID != "" && !identity.ValidSessionID(cfg.ID) {
		Error(w, http.StatusBadRequest, "invalid scenario id")
		return
	}

	operator := identity.OperatorFromContext(r.Context())
	id, err := h.sessions.Start(r.Context(), cfg)
	if err != nil {
		h.logger.Warn("Failed to start session", "error", err, "scenario_id", cfg.ID, "operator", operator)
		Error(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("Session start accepted", "session_id", id, "operator", operator,
		"remote_ip", identity.IPFromRequest(r))
	info, _ := h.sessions.Info(id)
	JSON(w, http.StatusCreated, info)
}

// StopSession requests a cooperative stop. Unknown or already stopped
// sessions report found=false.
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found := h.sessions.Stop(id)
	h.logger.Info("Session stop requested", "session_id", id, "found", found,
		"operator", identity.OperatorFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"found":      found,
	})
}

// GetSession returns status and progress for one session.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := h.sessions.Info(chi.URLParam(r, "id"))
	if !ok {
		JSON(w, http.StatusNotFound, info)
		return
	}
	JSON(w, http.StatusOK, info)
}

// ListSessions returns every session registered since startup.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.sessions.List(),
	})
}

// GetHistory returns persisted turns, oldest first.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	turns, err := h.sessions.History(r.Context(), id, limit)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to load history", "error", err, "session_id", id)
		}
		Error(w, status, err.Error())
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"turns":      turns,
	})
}

// ListPresets returns the scenarios loaded from the scenario file.
func (h *SessionHandler) ListPresets(w http.ResponseWriter, _ *http.Request) {
	presets := h.sessions.Presets()
	if presets == nil {
		presets = []domain.ScenarioConfig{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"presets": presets,
	})
}
