package effect

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a request the collaborator cannot act on.
type ValidationError struct {
	Kind    string
	Missing []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s request is missing required field(s): %s", e.Kind, strings.Join(e.Missing, ", "))
}

// UpstreamError reports a failed call to the external back-end.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrEmptyResult is returned when the collaborator succeeds without a token.
var ErrEmptyResult = errors.New("collaborator returned an empty result")

// Category returns the error class used in logs and metrics.
func Category(err error) string {
	var ve *ValidationError
	var ue *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ue):
		return "upstream"
	default:
		return "collaborator"
	}
}
