// Package domain contains core domain types for the backroom conversation service.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Participant identifies one of the two agents in a session.
type Participant string

const (
	// ParticipantA speaks first in every exchange.
	ParticipantA Participant = "participant-A"
	// ParticipantB answers participant A.
	ParticipantB Participant = "participant-B"
)

// Peer returns the counterpart of p.
func (p Participant) Peer() Participant {
	if p == ParticipantA {
		return ParticipantB
	}
	return ParticipantA
}

// Valid reports whether p is one of the two conversational participants.
func (p Participant) Valid() bool {
	return p == ParticipantA || p == ParticipantB
}

// GenerationParams are the sampling parameters sent with a provider call.
type GenerationParams struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int64   `json:"max_tokens" yaml:"max_tokens"`
}

// ParticipantSpec configures one side of a scenario.
type ParticipantSpec struct {
	Name            string    `json:"name" yaml:"name"`
	SystemPrompt    string    `json:"system_prompt" yaml:"system_prompt"`
	StartingContext []Message `json:"starting_context,omitempty" yaml:"starting_context,omitempty"`

	GenerationParams `yaml:",inline"`
}

// ScenarioConfig is the caller-supplied description of a scenario.
type ScenarioConfig struct {
	ID          string          `json:"id" yaml:"id"`
	A           ParticipantSpec `json:"participant_a" yaml:"participant_a"`
	B           ParticipantSpec `json:"participant_b" yaml:"participant_b"`
	SideEffects bool            `json:"side_effects" yaml:"side_effects"`
	TriggerKind string          `json:"trigger_kind,omitempty" yaml:"trigger_kind,omitempty"`
}

// Scenario is a persisted ScenarioConfig. It is never mutated after creation.
type Scenario struct {
	ScenarioConfig
	CreatedAt time.Time `json:"created_at"`
}

// Spec returns the participant spec for p.
func (c *ScenarioConfig) Spec(p Participant) ParticipantSpec {
	if p == ParticipantB {
		return c.B
	}
	return c.A
}

// DisplayName returns the configured name for p, falling back to the participant id.
func (c *ScenarioConfig) DisplayName(p Participant) string {
	if name := strings.TrimSpace(c.Spec(p).Name); name != "" {
		return name
	}
	return string(p)
}

// ErrInvalidScenario is returned when a scenario config fails validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// Validate checks that the config can drive a session.
func (c *ScenarioConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScenario)
	}
	for _, p := range []Participant{ParticipantA, ParticipantB} {
		spec := c.Spec(p)
		if strings.TrimSpace(spec.Model) == "" {
			return fmt.Errorf("%w: %s model is required", ErrInvalidScenario, p)
		}
		if spec.MaxTokens < 0 {
			return fmt.Errorf("%w: %s max_tokens must be >= 0", ErrInvalidScenario, p)
		}
		if spec.Temperature < 0 || spec.Temperature > 2 {
			return fmt.Errorf("%w: %s temperature must be within [0, 2]", ErrInvalidScenario, p)
		}
		for _, m := range spec.StartingContext {
			if m.Role != RoleUser && m.Role != RoleAssistant {
				return fmt.Errorf("%w: %s starting context role %q", ErrInvalidScenario, p, m.Role)
			}
		}
	}
	return nil
}
