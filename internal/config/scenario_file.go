package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/trigger"
)

// ScenarioFile holds trigger definitions and preset scenarios.
type ScenarioFile struct {
	Triggers  []trigger.Definition    `yaml:"triggers"`
	Scenarios []domain.ScenarioConfig `yaml:"scenarios"`
}

// LoadScenarioFile reads path. An empty path yields the built-in triggers
// and no presets. File triggers are added after the built-in ones, so a file
// entry with the same kind replaces the default.
func LoadScenarioFile(path string) (*ScenarioFile, error) {
	out := &ScenarioFile{Triggers: trigger.DefaultDefinitions()}
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenario file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Scenarios))
	for i := range file.Scenarios {
		sc := &file.Scenarios[i]
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("scenario file %s: entry %d: %w", path, i, err)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("scenario file %s: duplicate scenario %q", path, sc.ID)
		}
		seen[sc.ID] = true
	}

	out.Triggers = append(out.Triggers, file.Triggers...)
	out.Scenarios = file.Scenarios
	return out, nil
}
