package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backroom/internal/trigger"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.InterTurnDelay)
	assert.Equal(t, cfg.Scheduler.InterTurnDelay, cfg.Scheduler.RetryBaseDelay)
	assert.Equal(t, 10, cfg.Scheduler.ContextWindow)
	assert.Equal(t, 10, cfg.Scheduler.RetryMaxConsecutive)
	assert.Equal(t, "https://api.x.ai/v1", cfg.Providers.XAIBaseURL)
	assert.True(t, cfg.Transcript.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INTER_TURN_DELAY", "2500")
	t.Setenv("CONTEXT_WINDOW", "4")
	t.Setenv("PROVIDER_TIMEOUT", "1m")
	t.Setenv("RETRY_MAX_CONSECUTIVE", "0")
	t.Setenv("PROVIDER_RATE_PER_MINUTE", "30")
	t.Setenv("TRANSCRIPT_LOG_ENABLED", "off")
	t.Setenv("FRONTEND_URL", "https://backroom.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Scheduler.InterTurnDelay)
	assert.Equal(t, 2500*time.Millisecond, cfg.Scheduler.RetryBaseDelay)
	assert.Equal(t, 4, cfg.Scheduler.ContextWindow)
	assert.Equal(t, time.Minute, cfg.Scheduler.ProviderTimeout)
	assert.Equal(t, 0, cfg.Scheduler.RetryMaxConsecutive)
	assert.Equal(t, 30.0, cfg.Providers.RatePerMinute)
	assert.False(t, cfg.Transcript.Enabled)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"CONTEXT_WINDOW":        "0",
		"RETRY_MAX_CONSECUTIVE": "-1",
		"LOG_LEVEL":             "verbose",
		"EVENT_REPLAY_SIZE":     "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
	lvl, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	content := `
triggers:
  - kind: poll
    phrases: ["start a poll"]
    fields:
      - key: question
        labels: [Question]
        required: true
scenarios:
  - id: backrooms
    side_effects: true
    participant_a:
      name: Truth Terminal
      model: claude-3-5-sonnet
      temperature: 0.9
      max_tokens: 512
      system_prompt: "You are {{.Self}}."
      starting_context:
        - role: user
          content: "Let's begin."
    participant_b:
      name: Grok
      model: grok-2-latest
      temperature: 1.0
      max_tokens: 512
      system_prompt: "You are {{.Self}} talking with {{.Peer}}."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	file, err := LoadScenarioFile(path)
	require.NoError(t, err)
	require.Len(t, file.Scenarios, 1)
	sc := file.Scenarios[0]
	assert.Equal(t, "backrooms", sc.ID)
	assert.True(t, sc.SideEffects)
	assert.Equal(t, "claude-3-5-sonnet", sc.A.Model)
	assert.Equal(t, int64(512), sc.B.MaxTokens)
	require.Len(t, sc.A.StartingContext, 1)
	assert.Equal(t, "Let's begin.", sc.A.StartingContext[0].Content)

	reg, err := trigger.NewRegistry(file.Triggers...)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"asset", "poll"}, reg.Kinds())
}

func TestLoadScenarioFile_Errors(t *testing.T) {
	file, err := LoadScenarioFile("")
	require.NoError(t, err)
	assert.Empty(t, file.Scenarios)
	assert.Len(t, file.Triggers, 1)

	_, err = LoadScenarioFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenarios:\n  - id: x\n"), 0o644))
	_, err = LoadScenarioFile(path)
	assert.Error(t, err)
}
