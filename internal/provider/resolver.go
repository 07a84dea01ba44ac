package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Backend names a provider family.
type Backend string

const (
	BackendOpenAI    Backend = "openai"
	BackendXAI       Backend = "xai"
	BackendOllama    Backend = "ollama"
	BackendAnthropic Backend = "anthropic"
)

// OllamaPrefix marks model ids served by a local Ollama endpoint.
const OllamaPrefix = "ollama/"

// BackendFor picks the provider family for a model id.
func BackendFor(model string) Backend {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, OllamaPrefix):
		return BackendOllama
	case strings.Contains(m, "grok"):
		return BackendXAI
	case strings.HasPrefix(m, "claude"):
		return BackendAnthropic
	default:
		return BackendOpenAI
	}
}

// Config holds provider credentials and endpoints.
type Config struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	XAIAPIKey        string
	XAIBaseURL       string
	OllamaBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	RatePerMinute    float64
	RateBurst        int
}

// ErrNotConfigured is returned when a model needs a back-end without credentials.
var ErrNotConfigured = errors.New("provider not configured")

// Resolver hands out one adapter per back-end, created on first use.
type Resolver struct {
	cfg      Config
	mu       sync.Mutex
	adapters map[Backend]Adapter
}

// NewResolver creates a resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg, adapters: make(map[Backend]Adapter)}
}

// Register installs a fixed adapter for a back-end.
func (r *Resolver) Register(b Backend, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[b] = a
}

// Resolve returns the adapter serving model.
func (r *Resolver) Resolve(model string) (Adapter, error) {
	b := BackendFor(model)

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[b]; ok {
		return a, nil
	}

	a, err := r.build(b)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", model, err)
	}
	a = NewRateLimited(a, string(b), r.cfg.RatePerMinute, r.cfg.RateBurst)
	r.adapters[b] = a
	return a, nil
}

func (r *Resolver) build(b Backend) (Adapter, error) {
	switch b {
	case BackendOllama:
		return NewOpenAI(OpenAIOptions{
			Backend:         string(b),
			APIKey:          "ollama",
			BaseURL:         r.cfg.OllamaBaseURL,
			ModelPrefix:     OllamaPrefix,
			LegacyMaxTokens: true,
		}), nil
	case BackendXAI:
		if r.cfg.XAIAPIKey == "" {
			return nil, fmt.Errorf("%w: %s api key", ErrNotConfigured, b)
		}
		return NewOpenAI(OpenAIOptions{
			Backend:         string(b),
			APIKey:          r.cfg.XAIAPIKey,
			BaseURL:         r.cfg.XAIBaseURL,
			LegacyMaxTokens: true,
		}), nil
	case BackendAnthropic:
		if r.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: %s api key", ErrNotConfigured, b)
		}
		return NewAnthropic(r.cfg.AnthropicAPIKey, r.cfg.AnthropicBaseURL), nil
	default:
		if r.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: %s api key", ErrNotConfigured, b)
		}
		return NewOpenAI(OpenAIOptions{
			Backend: string(b),
			APIKey:  r.cfg.OpenAIAPIKey,
			BaseURL: r.cfg.OpenAIBaseURL,
		}), nil
	}
}
