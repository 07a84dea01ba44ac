package scheduler

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/backroom/internal/domain"
)

type promptData struct {
	Self     string
	Peer     string
	Scenario string
}

// RenderSystemPrompt expands {{.Self}} and {{.Peer}} in the participant's
// system prompt and appends the side-effect instructions when present.
func RenderSystemPrompt(cfg *domain.ScenarioConfig, p domain.Participant, instructions string) (string, error) {
	raw := cfg.Spec(p).SystemPrompt
	tmpl, err := template.New(string(p)).Option("missingkey=zero").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s system prompt: %v", domain.ErrInvalidScenario, p, err)
	}

	var b strings.Builder
	data := promptData{Self: cfg.DisplayName(p), Peer: cfg.DisplayName(p.Peer()), Scenario: cfg.ID}
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: %s system prompt: %v", domain.ErrInvalidScenario, p, err)
	}

	prompt := strings.TrimSpace(b.String())
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += instructions
	}
	return prompt, nil
}
