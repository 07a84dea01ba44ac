package domain

import "time"

// EventType names an observer event.
type EventType string

const (
	EventSessionStarted EventType = "session-started"
	EventTurnCreated    EventType = "turn-created"
	EventSessionError   EventType = "session-error"
	EventSessionStopped EventType = "session-stopped"
)

// Event is broadcast to observers. Delivery is best effort.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Turn      *Turn     `json:"turn,omitempty"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
