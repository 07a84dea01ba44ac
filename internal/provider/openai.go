package provider

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ashureev/backroom/internal/domain"
)

// OpenAIOptions configure an OpenAI-compatible adapter.
type OpenAIOptions struct {
	Backend string
	APIKey  string
	BaseURL string
	// ModelPrefix is stripped from the model id before the request.
	ModelPrefix string
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// which is what most compatible endpoints understand.
	LegacyMaxTokens bool
}

// OpenAI talks to the Chat Completions API of OpenAI, xAI or Ollama.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAI creates an adapter with its own client.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	// Retries are owned by the scheduler.
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return NewOpenAIFromClient(&client, opts)
}

// NewOpenAIFromClient creates an adapter from an existing client.
func NewOpenAIFromClient(client *openai.Client, opts OpenAIOptions) *OpenAI {
	if opts.Backend == "" {
		opts.Backend = string(BackendOpenAI)
	}
	return &OpenAI{client: client, opts: opts}
}

// Generate implements Adapter.
func (o *OpenAI) Generate(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.Role == domain.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(m.Content))
	}

	req := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       strings.TrimPrefix(params.Model, o.opts.ModelPrefix),
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		if o.opts.LegacyMaxTokens {
			req.MaxTokens = openai.Int(params.MaxTokens)
		} else {
			req.MaxCompletionTokens = openai.Int(params.MaxTokens)
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", Classify(o.opts.Backend, err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(o.opts.Backend, ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", malformed(o.opts.Backend, ErrEmptyResponse)
	}
	return text, nil
}
