// Package scheduler drives the alternating dialogue of one session.
//
// The loop is an explicit state machine. Step performs one transition and
// returns how long to wait before the next one; Run chains steps through an
// injected Clock. Tests drive Step directly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/backroom/internal/conversation"
	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/effect"
	"github.com/ashureev/backroom/internal/provider"
	"github.com/ashureev/backroom/internal/trigger"
)

// Session-error categories that do not come from a provider.
const (
	CategoryPersistence = "persistence"
	CategoryFatal       = "fatal"
)

// Publisher receives observer events. Publish must not block.
type Publisher interface {
	Publish(domain.Event)
}

// TurnStore persists turns.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn *domain.Turn) (string, error)
}

// Options wires a Scheduler.
type Options struct {
	Scenario *domain.Scenario
	Pair     *conversation.Pair
	// Adapters holds one provider adapter per participant.
	Adapters  map[domain.Participant]provider.Adapter
	Store     TurnStore
	Publisher Publisher

	// Detector and Effects are only used when the scenario enables side effects.
	Detector *trigger.Detector
	Effects  *effect.Handler

	Clock           Clock
	InterTurnDelay  time.Duration
	ProviderTimeout time.Duration
	Retry           RetryPolicy
	Metrics         *Metrics
	Logger          *slog.Logger

	// Turns is the number of turns already persisted for the scenario.
	Turns int64
}

// Scheduler runs the turn loop of one session.
type Scheduler struct {
	scenario  *domain.Scenario
	pair      *conversation.Pair
	adapters  map[domain.Participant]provider.Adapter
	store     TurnStore
	publisher Publisher
	detector  *trigger.Detector
	effects   *effect.Handler
	clock     Clock
	delay     time.Duration
	timeout   time.Duration
	retry     RetryPolicy
	metrics   *Metrics
	logger    *slog.Logger
	prompts   map[domain.Participant]string

	mu       sync.RWMutex
	state    State
	failures int
	lastTS   time.Time

	turns    atomic.Int64
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// ErrMissingAdapter is returned when a participant has no provider adapter.
var ErrMissingAdapter = errors.New("missing provider adapter")

// New validates opts and renders both system prompts.
func New(opts Options) (*Scheduler, error) {
	if opts.Scenario == nil || opts.Pair == nil || opts.Store == nil {
		return nil, fmt.Errorf("scheduler: scenario, pair and store are required")
	}
	for _, p := range []domain.Participant{domain.ParticipantA, domain.ParticipantB} {
		if opts.Adapters[p] == nil {
			return nil, fmt.Errorf("scheduler: %s: %w", p, ErrMissingAdapter)
		}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = discard{}
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = opts.InterTurnDelay
	}

	sideEffects := opts.Scenario.SideEffects && opts.Detector != nil && opts.Effects != nil
	instructions := ""
	if sideEffects {
		instructions = opts.Detector.Instructions()
	}
	prompts := make(map[domain.Participant]string, 2)
	for _, p := range []domain.Participant{domain.ParticipantA, domain.ParticipantB} {
		prompt, err := RenderSystemPrompt(&opts.Scenario.ScenarioConfig, p, instructions)
		if err != nil {
			return nil, err
		}
		prompts[p] = prompt
	}

	s := &Scheduler{
		scenario:  opts.Scenario,
		pair:      opts.Pair,
		adapters:  opts.Adapters,
		store:     opts.Store,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		delay:     opts.InterTurnDelay,
		timeout:   opts.ProviderTimeout,
		retry:     opts.Retry,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("session_id", opts.Scenario.ID),
		prompts:   prompts,
		state:     StateIdle,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if sideEffects {
		s.detector = opts.Detector
		s.effects = opts.Effects
	}
	s.turns.Store(opts.Turns)
	return s, nil
}

type discard struct{}

func (discard) Publish(domain.Event) {}

// ID returns the session identifier.
func (s *Scheduler) ID() string { return s.scenario.ID }

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Turns returns the number of persisted turns, including earlier runs.
func (s *Scheduler) Turns() int64 { return s.turns.Load() }

// SystemPrompt returns the rendered system prompt of p.
func (s *Scheduler) SystemPrompt(p domain.Participant) string { return s.prompts[p] }

// Stop asks the loop to halt at the next transition. It reports whether
// this call performed the stop.
func (s *Scheduler) Stop() bool {
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.stopped.Store(true)
		close(s.stopCh)
	})
	return first
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("scheduler transition", "from", prev, "to", st)
	}
}

// Run loops Step until the session stops, fails, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) State {
	defer close(s.done)
	for {
		next, wait := s.Step(ctx)
		if next.Terminal() {
			return next
		}
		if ctx.Err() != nil {
			s.Stop()
			continue
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		case <-s.clock.After(wait):
		}
	}
}

// Step performs exactly one transition and returns the new state together
// with the delay to observe before the next Step.
func (s *Scheduler) Step(ctx context.Context) (State, time.Duration) {
	cur := s.State()
	if cur.Terminal() {
		return cur, 0
	}
	if s.Stopped() {
		s.setState(StateStopped)
		return StateStopped, 0
	}

	var next State
	var wait time.Duration
	switch cur {
	case StateIdle, StateCooldown, StateBackoffA:
		next = StateGeneratingA
	case StateBackoffB:
		next = StateGeneratingB
	case StateGeneratingA:
		next, wait = s.generate(ctx, domain.ParticipantA)
	case StateGeneratingB:
		next, wait = s.generate(ctx, domain.ParticipantB)
	default:
		next = StateFailed
	}

	if !next.Terminal() && s.Stopped() {
		next, wait = StateStopped, 0
	}
	s.setState(next)
	return next, wait
}

// stamp returns a creation time that never goes backwards within the session.
func (s *Scheduler) stamp() time.Time {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.lastTS) {
		now = s.lastTS
	}
	s.lastTS = now
	return now
}

func (s *Scheduler) generate(ctx context.Context, p domain.Participant) (State, time.Duration) {
	spec := s.scenario.Spec(p)
	params := spec.GenerationParams
	backend := string(provider.BackendFor(params.Model))
	log := s.logger.With("participant", p, "model", params.Model)

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	text, err := s.adapters[p].Generate(callCtx, s.pair.History(p), s.prompts[p], params)
	if err != nil {
		s.metrics.ObserveGeneration(backend, "error", s.clock.Now().Sub(start))
		err = provider.Classify(backend, err)
		category := "provider." + string(provider.KindUnknown)
		var pe *provider.Error
		if errors.As(err, &pe) {
			category = pe.Category()
		}
		return s.fail(p, category, err)
	}
	s.metrics.ObserveGeneration(backend, "ok", s.clock.Now().Sub(start))

	turn := &domain.Turn{
		ID:          uuid.NewString(),
		ScenarioID:  s.scenario.ID,
		Author:      domain.AuthorOf(p),
		Participant: p,
		Content:     text,
		Params:      params,
		CreatedAt:   s.stamp(),
	}
	if _, err := s.store.AppendTurn(ctx, turn); err != nil {
		return s.fail(p, CategoryPersistence, err)
	}

	s.record(turn, "conversation")
	log.Info("turn created", "turn_id", turn.ID, "chars", len(text))

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	if s.detector != nil {
		if req, ok := s.detector.Detect(text); ok {
			if s.Stopped() {
				log.Info("session stopped, skipping side effect", "kind", req.Kind)
			} else {
				s.applyEffect(ctx, p, req)
			}
		}
	}

	if p == domain.ParticipantA {
		return StateGeneratingB, s.delay
	}
	return StateCooldown, s.delay
}

// record folds a persisted turn into the context and notifies observers.
// Observers are not notified once the session has been stopped.
func (s *Scheduler) record(turn *domain.Turn, kind string) {
	s.pair.Record(conversation.EntryFromTurn(*turn))
	s.turns.Add(1)
	s.metrics.IncTurn(string(turn.Participant), kind)
	if s.Stopped() {
		return
	}
	t := *turn
	s.publish(domain.Event{Type: domain.EventTurnCreated, Turn: &t})
}

func (s *Scheduler) applyEffect(ctx context.Context, p domain.Participant, req domain.SideEffectRequest) {
	out := s.effects.Handle(ctx, req)
	outcome := "success"
	if !out.OK() {
		outcome = effect.Category(out.Err)
	}
	s.metrics.IncSideEffect(req.Kind, outcome)

	turn := &domain.Turn{
		ID:          uuid.NewString(),
		ScenarioID:  s.scenario.ID,
		Author:      domain.AuthorSystemEffect,
		Participant: p,
		Content:     out.Content,
		CreatedAt:   s.stamp(),
	}
	if _, err := s.store.AppendTurn(ctx, turn); err != nil {
		s.metrics.IncFailure(CategoryPersistence)
		s.logger.Warn("persist side effect outcome failed", "participant", p, "error", err)
		s.publish(domain.Event{Type: domain.EventSessionError, Category: CategoryPersistence, Message: err.Error()})
	}
	s.record(turn, "effect")
}

func (s *Scheduler) fail(p domain.Participant, category string, err error) (State, time.Duration) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()

	s.metrics.IncFailure(category)
	s.publish(domain.Event{Type: domain.EventSessionError, Category: category, Message: err.Error()})

	if s.retry.Exhausted(n) {
		s.logger.Error("session failed", "participant", p, "failures", n, "error", err)
		s.publish(domain.Event{
			Type:     domain.EventSessionError,
			Category: CategoryFatal,
			Message:  fmt.Sprintf("giving up after %d consecutive failures: %v", n, err),
		})
		s.publish(domain.Event{Type: domain.EventSessionStopped})
		return StateFailed, 0
	}

	delay := s.retry.Delay(n)
	s.logger.Warn("generation step failed", "participant", p, "category", category, "attempt", n, "delay", delay, "error", err)
	return backoff(p), delay
}

func (s *Scheduler) publish(ev domain.Event) {
	ev.SessionID = s.scenario.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}
	s.publisher.Publish(ev)
}
