// Package session tracks running conversation sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/backroom/internal/conversation"
	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/effect"
	"github.com/ashureev/backroom/internal/provider"
	"github.com/ashureev/backroom/internal/scheduler"
	"github.com/ashureev/backroom/internal/store"
	"github.com/ashureev/backroom/internal/trigger"
)

var (
	// ErrUnknownSession is returned for identifiers with no scenario.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionBusy is returned when a stopped session's loop has not
	// finished its in-flight turn before the caller gave up waiting.
	ErrSessionBusy = errors.New("session still stopping")
	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("registry shutting down")
)

// Resolver picks the provider adapter for a model id.
type Resolver interface {
	Resolve(model string) (provider.Adapter, error)
}

// Config holds the turn loop settings shared by every session.
type Config struct {
	ContextWindow   int
	HistoryLimit    int
	InterTurnDelay  time.Duration
	ProviderTimeout time.Duration
	Retry           scheduler.RetryPolicy
}

// Deps are the collaborators of a Registry.
type Deps struct {
	Store     store.Repository
	Resolver  Resolver
	Triggers  *trigger.Registry
	Effects   *effect.Handler
	Publisher scheduler.Publisher
	Metrics   *scheduler.Metrics
	Clock     scheduler.Clock
	Logger    *slog.Logger
	Presets   []domain.ScenarioConfig
}

// Registry maps session identifiers to running schedulers.
type Registry struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	presets map[string]domain.ScenarioConfig

	mu       sync.Mutex
	sessions map[string]*scheduler.Scheduler
	closing  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a registry. Call Shutdown to stop every session.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = scheduler.RealClock()
	}
	presets := make(map[string]domain.ScenarioConfig, len(deps.Presets))
	for _, p := range deps.Presets {
		presets[p.ID] = p
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With("component", "session_registry"),
		presets:  presets,
		sessions: make(map[string]*scheduler.Scheduler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Presets returns the preset scenarios sorted by id.
func (r *Registry) Presets() []domain.ScenarioConfig {
	out := make([]domain.ScenarioConfig, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// hasParticipants reports whether cfg carries participant definitions or
// only names a scenario.
func hasParticipants(cfg domain.ScenarioConfig) bool {
	return strings.TrimSpace(cfg.A.Model) != "" || strings.TrimSpace(cfg.B.Model) != ""
}

// Start runs the scenario and returns its session id. Starting a scenario
// that is already running returns the same id without a second loop; starting
// a stopped one resumes from persisted history once the previous loop has
// returned, so at most one provider call per session is ever in flight.
func (r *Registry) Start(ctx context.Context, cfg domain.ScenarioConfig) (string, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}

	for {
		r.mu.Lock()
		if r.closing {
			r.mu.Unlock()
			return "", ErrShuttingDown
		}
		prev, ok := r.sessions[cfg.ID]
		if ok && !prev.Stopped() && !prev.State().Terminal() {
			r.mu.Unlock()
			return cfg.ID, nil
		}
		if !ok || finished(prev) {
			break
		}
		r.mu.Unlock()

		r.logger.Debug("waiting for previous loop", "session_id", cfg.ID)
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s: %w", ErrSessionBusy, cfg.ID, ctx.Err())
		}
	}
	defer r.mu.Unlock()

	sc, err := r.scenarioFor(ctx, cfg)
	if err != nil {
		return "", err
	}
	sched, err := r.build(ctx, sc)
	if err != nil {
		return "", err
	}

	r.sessions[sc.ID] = sched
	r.deps.Metrics.SessionStarted()
	r.publish(domain.Event{Type: domain.EventSessionStarted, SessionID: sc.ID})
	r.logger.Info("session started", "session_id", sc.ID, "turns", sched.Turns(),
		"model_a", sc.A.Model, "model_b", sc.B.Model, "side_effects", sc.SideEffects)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.deps.Metrics.SessionEnded()
		final := sched.Run(r.ctx)
		r.logger.Info("session ended", "session_id", sc.ID, "state", final, "turns", sched.Turns())
	}()

	return sc.ID, nil
}

func finished(s *scheduler.Scheduler) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func (r *Registry) scenarioFor(ctx context.Context, cfg domain.ScenarioConfig) (*domain.Scenario, error) {
	if !hasParticipants(cfg) {
		if preset, ok := r.presets[cfg.ID]; ok {
			cfg = preset
		} else {
			sc, err := r.deps.Store.GetScenario(ctx, cfg.ID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSession, cfg.ID)
			}
			return sc, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.deps.Store.GetOrCreateScenario(ctx, cfg)
}

func (r *Registry) build(ctx context.Context, sc *domain.Scenario) (*scheduler.Scheduler, error) {
	adapters := make(map[domain.Participant]provider.Adapter, 2)
	for _, p := range []domain.Participant{domain.ParticipantA, domain.ParticipantB} {
		a, err := r.deps.Resolver.Resolve(sc.Spec(p).Model)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidScenario, p, err)
		}
		adapters[p] = a
	}

	var detector *trigger.Detector
	if sc.SideEffects && r.deps.Triggers != nil {
		d, ok := r.deps.Triggers.For(sc.TriggerKind)
		if !ok {
			return nil, fmt.Errorf("%w: unknown trigger kind %q", domain.ErrInvalidScenario, sc.TriggerKind)
		}
		detector = d
	}

	recent, err := r.deps.Store.LoadRecent(ctx, sc.ID, r.cfg.HistoryLimit, domain.AuthorSystemEffect)
	if err != nil {
		return nil, err
	}
	count, err := r.deps.Store.CountTurns(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	pair := conversation.Resume(r.cfg.ContextWindow, map[domain.Participant][]domain.Message{
		domain.ParticipantA: sc.A.StartingContext,
		domain.ParticipantB: sc.B.StartingContext,
	}, recent)

	return scheduler.New(scheduler.Options{
		Scenario:        sc,
		Pair:            pair,
		Adapters:        adapters,
		Store:           r.deps.Store,
		Publisher:       r.deps.Publisher,
		Detector:        detector,
		Effects:         r.deps.Effects,
		Clock:           r.deps.Clock,
		InterTurnDelay:  r.cfg.InterTurnDelay,
		ProviderTimeout: r.cfg.ProviderTimeout,
		Retry:           r.cfg.Retry,
		Metrics:         r.deps.Metrics,
		Logger:          r.deps.Logger,
		Turns:           count,
	})
}

// Stop halts a running session. It reports whether one was found running;
// unknown or already stopped sessions produce no events.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.State().Terminal() || !s.Stop() {
		return false
	}
	r.publish(domain.Event{Type: domain.EventSessionStopped, SessionID: id})
	r.logger.Info("session stop requested", "session_id", id)
	return true
}

// Status returns the lifecycle status of id.
func (r *Registry) Status(id string) domain.SessionStatus {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return domain.StatusUnknown
	}
	return statusOf(s)
}

func statusOf(s *scheduler.Scheduler) domain.SessionStatus {
	switch {
	case s.State() == scheduler.StateFailed:
		return domain.StatusFailed
	case s.Stopped() || s.State() == scheduler.StateStopped:
		return domain.StatusStopped
	default:
		return domain.StatusRunning
	}
}

func infoOf(s *scheduler.Scheduler) domain.SessionInfo {
	return domain.SessionInfo{
		SessionID: s.ID(),
		Status:    statusOf(s),
		State:     string(s.State()),
		Turns:     s.Turns(),
	}
}

// Info describes a registered session.
func (r *Registry) Info(id string) (domain.SessionInfo, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return domain.SessionInfo{SessionID: id, Status: domain.StatusUnknown}, false
	}
	return infoOf(s), true
}

// List describes every registered session, sorted by id.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(r.sessions))
	for _, s := range r.sessions {
		scheds = append(scheds, s)
	}
	r.mu.Unlock()

	out := make([]domain.SessionInfo, 0, len(scheds))
	for _, s := range scheds {
		out = append(out, infoOf(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Running returns the number of sessions whose loop is still active.
func (r *Registry) Running() int {
	n := 0
	for _, info := range r.List() {
		if info.Status == domain.StatusRunning {
			n++
		}
	}
	return n
}

// History returns persisted turns of a session, oldest first, including
// side-effect outcomes.
func (r *Registry) History(ctx context.Context, id string, limit int) ([]domain.Turn, error) {
	if _, err := r.deps.Store.GetScenario(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		return nil, err
	}
	return r.deps.Store.ListTurns(ctx, id, limit)
}

// Shutdown stops every session and waits for their loops to return. When ctx
// expires first, in-flight provider calls are cancelled.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	for id, s := range r.sessions {
		if s.Stop() {
			r.publish(domain.Event{Type: domain.EventSessionStopped, SessionID: id})
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("shutdown sessions: %w", ctx.Err())
	}
}

func (r *Registry) publish(ev domain.Event) {
	if r.deps.Publisher == nil {
		return
	}
	ev.Timestamp = r.deps.Clock.Now()
	r.deps.Publisher.Publish(ev)
}
