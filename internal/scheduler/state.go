package scheduler

import "github.com/ashureev/backroom/internal/domain"

// State is a position in the turn loop.
type State string

const (
	StateIdle        State = "idle"
	StateGeneratingA State = "generating_a"
	StateGeneratingB State = "generating_b"
	StateBackoffA    State = "backoff_a"
	StateBackoffB    State = "backoff_b"
	StateCooldown    State = "cooldown"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

func backoff(p domain.Participant) State {
	if p == domain.ParticipantB {
		return StateBackoffB
	}
	return StateBackoffA
}
