package domain

import "time"

// Author identifies who produced a turn.
type Author string

// AuthorSystemEffect is reserved for synthetic side-effect outcome turns.
const AuthorSystemEffect Author = "system-effect"

// AuthorOf returns the author value for a conversational participant.
func AuthorOf(p Participant) Author { return Author(p) }

// Role is a provider-facing message role.
type Role string

const (
	// RoleUser marks content produced by the counterpart.
	RoleUser Role = "user"
	// RoleAssistant marks content produced by the viewing participant.
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of provider history.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Turn is a single persisted utterance.
type Turn struct {
	ID          string           `json:"id"`
	ScenarioID  string           `json:"scenario_id"`
	Author      Author           `json:"author"`
	Participant Participant      `json:"participant"`
	Content     string           `json:"content"`
	Params      GenerationParams `json:"params"`
	CreatedAt   time.Time        `json:"created_at"`
}

// IsEffect reports whether the turn is a synthetic side-effect outcome.
func (t *Turn) IsEffect() bool {
	return t.Author == AuthorSystemEffect
}
