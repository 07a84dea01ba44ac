package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/identity"
	"github.com/ashureev/backroom/internal/session"
)

type fakeSessions struct {
	mu       sync.Mutex
	started  []domain.ScenarioConfig
	startErr error
	infos    map[string]domain.SessionInfo
	turns    map[string][]domain.Turn
	limits   []int
	presets  []domain.ScenarioConfig
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		infos: make(map[string]domain.SessionInfo),
		turns: make(map[string][]domain.Turn),
	}
}

func (f *fakeSessions) Start(_ context.Context, cfg domain.ScenarioConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	if cfg.ID == "" {
		cfg.ID = "generated"
	}
	f.started = append(f.started, cfg)
	f.infos[cfg.ID] = domain.SessionInfo{SessionID: cfg.ID, Status: domain.StatusRunning, State: "idle"}
	return cfg.ID, nil
}

func (f *fakeSessions) Stop(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok || info.Status != domain.StatusRunning {
		return false
	}
	info.Status = domain.StatusStopped
	f.infos[id] = info
	return true
}

func (f *fakeSessions) Info(id string) (domain.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok {
		return domain.SessionInfo{SessionID: id, Status: domain.StatusUnknown}, false
	}
	return info, true
}

func (f *fakeSessions) List() []domain.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionInfo, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out
}

func (f *fakeSessions) History(_ context.Context, id string, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	turns, ok := f.turns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	return turns, nil
}

func (f *fakeSessions) Presets() []domain.ScenarioConfig { return f.presets }

func newTestRouter(f *fakeSessions, token string) http.Handler {
	r := chi.NewRouter()
	NewSessionHandler(NewHandler(f, nil)).RegisterRoutes(r, identity.Middleware(token))
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartSession_FullConfig(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")

	body := `{"id":"backrooms","side_effects":true,
		"participant_a":{"name":"A","model":"gpt-4o","temperature":0.7,"max_tokens":256},
		"participant_b":{"name":"B","model":"grok-2","temperature":1.0,"max_tokens":256}}`
	rec := do(t, h, http.MethodPost, "/api/sessions", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var info domain.SessionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "backrooms", info.SessionID)
	assert.Equal(t, domain.StatusRunning, info.Status)

	require.Len(t, f.started, 1)
	assert.Equal(t, "gpt-4o", f.started[0].A.Model)
	assert.Equal(t, int64(256), f.started[0].B.MaxTokens)
	assert.True(t, f.started[0].SideEffects)
}

func TestStartSession_ByScenarioID(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")

	rec := do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"preset-1"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.started, 1)
	assert.Equal(t, "preset-1", f.started[0].ID)
}

func TestStartSession_Errors(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")

	rec := do(t, h, http.MethodPost, "/api/sessions", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"../etc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.startErr = fmt.Errorf("%w: participant-A model is required", domain.ErrInvalidScenario)
	rec = do(t, h, http.MethodPost, "/api/sessions", `{"id":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "model is required")

	f.startErr = fmt.Errorf("%w: ghost", session.ErrUnknownSession)
	rec = do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"ghost"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.startErr = errors.New("boom")
	rec = do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"x"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestControlRoutesRequireToken(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "secret")

	rec := do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"p"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/sessions/p/stop", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.started)

	auth := map[string]string{"Authorization": "Bearer secret"}
	rec = do(t, h, http.MethodPost, "/api/sessions", `{"scenario_id":"p"}`, auth)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Read routes stay public.
	rec = do(t, h, http.MethodGet, "/api/sessions/p", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStopSession(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")
	_, _ = f.Start(context.Background(), domain.ScenarioConfig{ID: "s1"})

	rec := do(t, h, http.MethodPost, "/api/sessions/s1/stop", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, true, got["found"])

	rec = do(t, h, http.MethodPost, "/api/sessions/s1/stop", "", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, false, got["found"])

	rec = do(t, h, http.MethodPost, "/api/sessions/unknown/stop", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, false, got["found"])
}

func TestGetSession(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")
	_, _ = f.Start(context.Background(), domain.ScenarioConfig{ID: "s1"})

	rec := do(t, h, http.MethodGet, "/api/sessions/s1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var info domain.SessionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, domain.StatusUnknown, info.Status)

	rec = do(t, h, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"s1"`)
}

func TestGetHistory(t *testing.T) {
	f := newFakeSessions()
	f.turns["s1"] = []domain.Turn{
		{ID: "t1", ScenarioID: "s1", Author: domain.AuthorOf(domain.ParticipantA), Participant: domain.ParticipantA, Content: "hello"},
	}
	f.turns["empty"] = nil
	h := newTestRouter(f, "")

	rec := do(t, h, http.MethodGet, "/api/sessions/s1/history?limit=5000", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
	assert.Equal(t, maxHistoryLimit, f.limits[len(f.limits)-1])

	rec = do(t, h, http.MethodGet, "/api/sessions/empty/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"turns":[]`)
	assert.Equal(t, defaultHistoryLimit, f.limits[len(f.limits)-1])

	rec = do(t, h, http.MethodGet, "/api/sessions/s1/history?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/ghost/history", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPresets(t *testing.T) {
	f := newFakeSessions()
	h := newTestRouter(f, "")

	rec := do(t, h, http.MethodGet, "/api/presets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"presets":[]`)

	f.presets = []domain.ScenarioConfig{{ID: "backrooms"}}
	rec = do(t, h, http.MethodGet, "/api/presets", "", nil)
	assert.Contains(t, rec.Body.String(), "backrooms")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthReady(t *testing.T) {
	f := newFakeSessions()
	_, _ = f.Start(context.Background(), domain.ScenarioConfig{ID: "s1"})

	r := chi.NewRouter()
	NewHealthHandler(fakePinger{}, f).RegisterHealth(r)
	rec := do(t, r, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions_running":1`)

	r = chi.NewRouter()
	NewHealthHandler(fakePinger{err: errors.New("locked")}, f).RegisterHealth(r)
	rec = do(t, r, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
