// Package provider adapts LLM back-ends to a single text-generation call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/ashureev/backroom/internal/domain"
)

// Adapter turns role-tagged history plus a system prompt into generated text.
type Adapter interface {
	Generate(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error)
}

// AdapterFunc lets a function act as an Adapter.
type AdapterFunc func(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error)

// Generate implements Adapter.
func (f AdapterFunc) Generate(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error) {
	return f(ctx, history, systemPrompt, params)
}

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindMalformed Kind = "malformed"
	KindTimeout   Kind = "timeout"
	KindUnknown   Kind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Backend    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Category returns the session-error category for the failure.
func (e *Error) Category() string { return "provider." + string(e.Kind) }

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// Classify wraps err as an *Error. Errors that are already classified are returned as is.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return &Error{Kind: KindForStatus(oaErr.StatusCode), Backend: backend, StatusCode: oaErr.StatusCode, Err: err}
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return &Error{Kind: KindForStatus(anErr.StatusCode), Backend: backend, StatusCode: anErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	}
	return &Error{Kind: KindUnknown, Backend: backend, Err: err}
}

// ErrEmptyResponse is wrapped by malformed-response failures.
var ErrEmptyResponse = errors.New("response contained no text")

func malformed(backend string, err error) error {
	return &Error{Kind: KindMalformed, Backend: backend, Err: err}
}
