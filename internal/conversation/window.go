// Package conversation keeps the bounded dialogue context of a session.
//
// A session holds a single canonical log of turns. Each participant's
// context window is a projection of that log: entries written by the
// viewing participant carry the assistant role and everything else carries
// the user role. Because both views come from one log they cannot drift.
package conversation

import (
	"sync"

	"github.com/ashureev/backroom/internal/domain"
)

// Entry is one turn as held by a window.
type Entry struct {
	TurnID  string
	Author  domain.Author
	Speaker domain.Participant
	Content string
}

// EntryFromTurn converts a persisted turn into a window entry.
func EntryFromTurn(t domain.Turn) Entry {
	return Entry{
		TurnID:  t.ID,
		Author:  t.Author,
		Speaker: t.Participant,
		Content: t.Content,
	}
}

// Window is an ordered, most-recent-last sequence of entries.
// Operations never reorder existing entries.
type Window struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewWindow returns a window holding a copy of entries.
func NewWindow(entries ...Entry) *Window {
	w := &Window{}
	w.entries = append(w.entries, entries...)
	return w
}

// Append adds e to the end of the window.
func (w *Window) Append(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
}

// Trim evicts entries from the front until at most maxLen remain.
// A non-positive maxLen leaves the window untouched.
func (w *Window) Trim(maxLen int) {
	if maxLen <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if over := len(w.entries) - maxLen; over > 0 {
		kept := make([]Entry, maxLen)
		copy(kept, w.entries[over:])
		w.entries = kept
	}
}

// Snapshot returns a copy of the current entries.
func (w *Window) Snapshot() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the number of entries.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Project renders entries as provider history seen from viewpoint, keeping
// only the most recent maxLen entries when maxLen is positive.
func Project(entries []Entry, viewpoint domain.Participant, maxLen int) []domain.Message {
	if maxLen > 0 && len(entries) > maxLen {
		entries = entries[len(entries)-maxLen:]
	}
	out := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		role := domain.RoleUser
		if e.Speaker == viewpoint {
			role = domain.RoleAssistant
		}
		out = append(out, domain.Message{Role: role, Content: e.Content})
	}
	return out
}
