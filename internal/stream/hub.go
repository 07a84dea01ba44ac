// Package stream fans session events out to live observers.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/backroom/internal/domain"
)

const defaultBufferSize = 64

// Subscription receives events for one session, or for all sessions when
// its session id is empty.
type Subscription struct {
	id        int64
	sessionID string
	ch        chan domain.Event
	dropped   atomic.Int64
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Event { return s.ch }

// Dropped returns the number of events discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(ev domain.Event) bool {
	return s.sessionID == "" || s.sessionID == ev.SessionID
}

// Hub is an in-process best-effort event bus. Publish never blocks.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]*Subscription
	nextSub int64
	closed  bool

	eventID    atomic.Int64
	queue      *ReplayQueue
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates a hub keeping replaySize events per session for reconnects.
func NewHub(replaySize, bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:       make(map[int64]*Subscription),
		queue:      NewReplayQueue(replaySize),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish assigns the next event id, records the event for replay and
// delivers it to every interested subscriber without waiting.
func (h *Hub) Publish(ev domain.Event) {
	ev.ID = h.eventID.Add(1)
	h.queue.Enqueue(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if sub.dropped.Add(1) == 1 {
				h.logger.Warn("observer too slow, dropping events", "subscriber", sub.id, "session_id", ev.SessionID)
			}
		}
	}
}

// Subscribe registers a subscriber for sessionID ("" for every session).
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	sub := &Subscription{id: h.nextSub, sessionID: sessionID, ch: make(chan domain.Event, h.bufferSize)}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Replay returns the buffered events of sessionID with an id above afterID.
func (h *Hub) Replay(sessionID string, afterID int64) []domain.Event {
	return h.queue.Since(sessionID, afterID)
}

// LastEventID returns the id of the most recently published event.
func (h *Hub) LastEventID() int64 { return h.eventID.Load() }

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are only recorded for replay.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
