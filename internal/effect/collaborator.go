package effect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/backroom/internal/domain"
)

// DryRun accepts every request and returns a generated reference.
type DryRun struct{}

// Create implements Collaborator.
func (DryRun) Create(_ context.Context, req domain.SideEffectRequest) (string, error) {
	return "dryrun-" + req.Kind + "-" + uuid.NewString(), nil
}

// Webhook forwards requests as JSON to an HTTP endpoint.
type Webhook struct {
	URL    string
	Token  string
	Client *http.Client
}

type webhookRequest struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
}

type webhookResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Error string `json:"error"`
}

// Create implements Collaborator.
func (w *Webhook) Create(ctx context.Context, req domain.SideEffectRequest) (string, error) {
	body, err := json.Marshal(webhookRequest{Kind: req.Kind, Fields: req.Fields})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}

	var out webhookResponse
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &out)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &ValidationError{Kind: req.Kind, Message: msg}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	case decodeErr != nil:
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode webhook response: %w", decodeErr)}
	}

	if out.ID != "" {
		return out.ID, nil
	}
	return out.Token, nil
}
