package stream

import (
	"container/list"
	"sync"

	"github.com/ashureev/backroom/internal/domain"
)

// ReplayQueue buffers recent events per session so reconnecting observers
// can catch up. Each session has its own bounded list, so a busy session
// cannot evict events belonging to another.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewReplayQueue creates a queue keeping maxSize events per session.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends ev to its session's queue.
func (q *ReplayQueue) Enqueue(ev domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[ev.SessionID]
	if !ok {
		l = list.New()
		q.queues[ev.SessionID] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the events of sessionID with an id greater than afterID.
func (q *ReplayQueue) Since(sessionID string, afterID int64) []domain.Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var missed []domain.Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(domain.Event)
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}
