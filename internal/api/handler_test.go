//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/session"
	"github.com/ashureev/backroom/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: id is required", domain.ErrInvalidScenario), http.StatusBadRequest},
		{fmt.Errorf("%w: x", session.ErrUnknownSession), http.StatusNotFound},
		{fmt.Errorf("%w: x: %w", session.ErrSessionBusy, context.DeadlineExceeded), http.StatusConflict},
		{session.ErrShuttingDown, http.StatusServiceUnavailable},
		{fmt.Errorf("load: %w: locked", store.ErrPersistence), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
