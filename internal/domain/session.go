package domain

// SessionStatus is the externally visible lifecycle of a session.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusStopped SessionStatus = "stopped"
	StatusFailed  SessionStatus = "failed"
	StatusUnknown SessionStatus = "unknown"
)

// SessionInfo summarizes a registered session.
type SessionInfo struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	State     string        `json:"state"`
	Turns     int64         `json:"turns"`
}
