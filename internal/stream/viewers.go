package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Viewers tracks open WebSocket observers per session.
type Viewers struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewViewers creates an empty viewer set.
func NewViewers() *Viewers {
	return &Viewers{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn as an observer of sessionID.
func (v *Viewers) Register(sessionID string, conn *websocket.Conn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.active[sessionID]; !ok {
		v.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	v.active[sessionID][conn] = struct{}{}
	slog.Debug("viewer registered", "session_id", sessionID, "viewers", len(v.active[sessionID]))
}

// Unregister removes conn.
func (v *Viewers) Unregister(sessionID string, conn *websocket.Conn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if conns, ok := v.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(v.active, sessionID)
		}
	}
}

// Count returns the number of observers of sessionID.
func (v *Viewers) Count(sessionID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.active[sessionID])
}

// CloseAll closes every observer connection.
func (v *Viewers) CloseAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for sid, conns := range v.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(v.active, sid)
	}
}
