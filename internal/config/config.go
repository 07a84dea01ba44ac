// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC health server
	FrontendURL     string
	DBPath          string
	ControlAPIToken string
	ScenarioFile    string
	LogLevel        string
	Scheduler       SchedulerConfig
	Providers       ProviderConfig
	SideEffects     SideEffectConfig
	Stream          StreamConfig
	Transcript      TranscriptConfig
}

// SchedulerConfig controls the turn loop of every session.
type SchedulerConfig struct {
	InterTurnDelay      time.Duration
	ContextWindow       int
	HistoryLimit        int
	ProviderTimeout     time.Duration
	RetryMaxConsecutive int // 0 = retry forever
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
}

// ProviderConfig holds LLM credentials and endpoints.
type ProviderConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	XAIAPIKey       string
	XAIBaseURL      string
	OllamaBaseURL   string
	AnthropicAPIKey string
	RatePerMinute   float64 // 0 = unlimited
	RateBurst       int
}

// SideEffectConfig selects the side-effect collaborator.
type SideEffectConfig struct {
	WebhookURL   string // empty = dry run
	WebhookToken string
	Timeout      time.Duration
}

// StreamConfig controls observer delivery.
type StreamConfig struct {
	ReplaySize        int
	BufferSize        int
	KeepaliveInterval time.Duration
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	interTurn := getEnvDuration("INTER_TURN_DELAY", 10*time.Second)

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "9090"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/backroom.db"),
		ControlAPIToken: getEnv("CONTROL_API_TOKEN", ""),
		ScenarioFile:    getEnv("SCENARIO_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Scheduler: SchedulerConfig{
			InterTurnDelay:      interTurn,
			ContextWindow:       getEnvInt("CONTEXT_WINDOW", 10),
			HistoryLimit:        getEnvInt("HISTORY_LIMIT", 10),
			ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 90*time.Second),
			RetryMaxConsecutive: getEnvInt("RETRY_MAX_CONSECUTIVE", 10),
			RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", interTurn),
			RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 5*time.Minute),
		},
		Providers: ProviderConfig{
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			XAIAPIKey:       getEnv("XAI_API_KEY", ""),
			XAIBaseURL:      getEnv("XAI_BASE_URL", "https://api.x.ai/v1"),
			OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			RatePerMinute:   getEnvFloat("PROVIDER_RATE_PER_MINUTE", 0),
			RateBurst:       getEnvInt("PROVIDER_RATE_BURST", 1),
		},
		SideEffects: SideEffectConfig{
			WebhookURL:   getEnv("SIDE_EFFECT_WEBHOOK_URL", ""),
			WebhookToken: getEnv("SIDE_EFFECT_WEBHOOK_TOKEN", ""),
			Timeout:      getEnvDuration("SIDE_EFFECT_TIMEOUT", 30*time.Second),
		},
		Stream: StreamConfig{
			ReplaySize:        getEnvInt("EVENT_REPLAY_SIZE", 100),
			BufferSize:        getEnvInt("EVENT_BUFFER_SIZE", 64),
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Scheduler.InterTurnDelay < 0 {
		return fmt.Errorf("INTER_TURN_DELAY must be >= 0")
	}
	if c.Scheduler.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	if c.Scheduler.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Scheduler.RetryMaxConsecutive < 0 {
		return fmt.Errorf("RETRY_MAX_CONSECUTIVE must be >= 0")
	}
	if c.Scheduler.RetryMaxDelay > 0 && c.Scheduler.RetryBaseDelay > c.Scheduler.RetryMaxDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must not exceed RETRY_MAX_DELAY")
	}
	if c.Providers.RatePerMinute < 0 {
		return fmt.Errorf("PROVIDER_RATE_PER_MINUTE must be >= 0")
	}
	if c.Stream.ReplaySize <= 0 {
		return fmt.Errorf("EVENT_REPLAY_SIZE must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ParseLogLevel maps LOG_LEVEL to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1m30s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
