package provider

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ashureev/backroom/internal/domain"
)

const (
	defaultAnthropicMaxTokens = 1024
	// anthropicOpener stands in for the counterpart when history starts with
	// an assistant message, since the Messages API requires a user turn first.
	anthropicOpener = "(continue)"
)

// Anthropic talks to the Claude Messages API.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic creates an adapter with its own client.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	// Retries are owned by the scheduler.
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Anthropic{client: &client}
}

// Generate implements Adapter.
func (a *Anthropic) Generate(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(params.Model),
		Messages:    buildAnthropicMessages(history),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(clampAnthropicTemperature(params.Temperature)),
	}
	if systemPrompt != "" {
		req.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return "", Classify(string(BackendAnthropic), err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", malformed(string(BackendAnthropic), ErrEmptyResponse)
	}
	return text, nil
}

// mergedMessage is a run of same-role history entries.
type mergedMessage struct {
	role    domain.Role
	content string
}

// normalizeAlternation merges consecutive same-role messages and makes the
// sequence start with a user message.
func normalizeAlternation(history []domain.Message) []mergedMessage {
	var out []mergedMessage
	for _, m := range history {
		if n := len(out); n > 0 && out[n-1].role == m.Role {
			out[n-1].content += "\n\n" + m.Content
			continue
		}
		out = append(out, mergedMessage{role: m.Role, content: m.Content})
	}
	if len(out) == 0 || out[0].role != domain.RoleUser {
		out = append([]mergedMessage{{role: domain.RoleUser, content: anthropicOpener}}, out...)
	}
	return out
}

func buildAnthropicMessages(history []domain.Message) []anthropic.MessageParam {
	merged := normalizeAlternation(history)
	messages := make([]anthropic.MessageParam, 0, len(merged))
	for _, m := range merged {
		block := anthropic.NewTextBlock(m.content)
		if m.role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}

// Claude accepts temperatures in [0, 1].
func clampAnthropicTemperature(t float64) float64 {
	if t > 1 {
		return 1
	}
	if t < 0 {
		return 0
	}
	return t
}
