// Package effect executes detected side effects and turns their outcome into
// conversational content.
package effect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/backroom/internal/domain"
)

// Collaborator performs the external action for a request.
type Collaborator interface {
	Create(ctx context.Context, req domain.SideEffectRequest) (string, error)
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Token string
	Err   error
	// Content is the text of the synthetic turn folded back into the conversation.
	Content string
}

// OK reports whether the collaborator produced a token.
func (o Outcome) OK() bool { return o.Err == nil && o.Token != "" }

// Handler dispatches side-effect requests to a collaborator.
type Handler struct {
	collaborator Collaborator
	timeout      time.Duration
	logger       *slog.Logger
}

// NewHandler creates a handler. A zero timeout means no deadline beyond ctx.
func NewHandler(c Collaborator, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{collaborator: c, timeout: timeout, logger: logger}
}

// Handle validates req and calls the collaborator at most once.
// Domain failures are returned as failure content, never as errors.
func (h *Handler) Handle(ctx context.Context, req domain.SideEffectRequest) Outcome {
	log := h.logger.With("kind", req.Kind)

	if !req.WellFormed() {
		err := &ValidationError{Kind: req.Kind, Missing: req.Missing}
		log.Warn("side effect request rejected", "missing", req.Missing)
		return Outcome{Err: err, Content: FormatMissing(req)}
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	token, err := h.collaborator.Create(ctx, req)
	if err == nil && strings.TrimSpace(token) == "" {
		err = ErrEmptyResult
	}
	if err != nil {
		log.Warn("side effect failed", "category", Category(err), "error", err)
		return Outcome{Err: err, Content: FormatFailure(req, err)}
	}

	log.Info("side effect completed", "token", token)
	return Outcome{Token: token, Content: FormatSuccess(req, token)}
}

func subject(req domain.SideEffectRequest) string {
	name, ticker := req.Fields["name"], req.Fields["ticker"]
	switch {
	case name != "" && ticker != "":
		return fmt.Sprintf("%s %q (%s)", req.Kind, name, ticker)
	case name != "":
		return fmt.Sprintf("%s %q", req.Kind, name)
	default:
		return req.Kind
	}
}

// FormatSuccess renders the success turn text.
func FormatSuccess(req domain.SideEffectRequest, token string) string {
	return fmt.Sprintf("[side effect] Created %s. Reference: %s", subject(req), token)
}

// FormatFailure renders the failure turn text.
func FormatFailure(req domain.SideEffectRequest, err error) string {
	return fmt.Sprintf("[side effect] Failed to create %s: %v", subject(req), err)
}

// FormatMissing renders the text for a request with missing required fields.
func FormatMissing(req domain.SideEffectRequest) string {
	return fmt.Sprintf("[side effect] Could not create %s: missing required field(s): %s",
		subject(req), strings.Join(req.Missing, ", "))
}
