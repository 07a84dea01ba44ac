package effect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backroom/internal/domain"
)

type mockCollaborator struct {
	mock.Mock
}

func (m *mockCollaborator) Create(ctx context.Context, req domain.SideEffectRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func validRequest() domain.SideEffectRequest {
	return domain.SideEffectRequest{
		Kind:   "asset",
		Fields: map[string]string{"name": "Foo", "ticker": "FOO", "description": "a coin"},
	}
}

func TestHandle_Success(t *testing.T) {
	c := new(mockCollaborator)
	req := validRequest()
	c.On("Create", mock.Anything, req).Return("tok-123", nil).Once()

	out := NewHandler(c, time.Second, nil).Handle(context.Background(), req)

	require.True(t, out.OK())
	assert.Equal(t, "tok-123", out.Token)
	assert.Contains(t, out.Content, "tok-123")
	assert.Contains(t, out.Content, `"Foo" (FOO)`)
	c.AssertExpectations(t)
}

func TestHandle_MissingFieldsSkipsCollaborator(t *testing.T) {
	c := new(mockCollaborator)
	req := domain.SideEffectRequest{Kind: "asset", Fields: map[string]string{"name": "Foo"}, Missing: []string{"ticker", "description"}}

	out := NewHandler(c, 0, nil).Handle(context.Background(), req)

	assert.False(t, out.OK())
	var ve *ValidationError
	require.ErrorAs(t, out.Err, &ve)
	assert.Contains(t, out.Content, "ticker, description")
	c.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandle_CollaboratorError(t *testing.T) {
	c := new(mockCollaborator)
	c.On("Create", mock.Anything, mock.Anything).Return("", &UpstreamError{StatusCode: 502, Err: errors.New("bad gateway")}).Once()

	out := NewHandler(c, 0, nil).Handle(context.Background(), validRequest())

	assert.False(t, out.OK())
	assert.Equal(t, "upstream", Category(out.Err))
	assert.True(t, strings.HasPrefix(out.Content, "[side effect] Failed to create"))
	c.AssertNumberOfCalls(t, "Create", 1)
}

func TestHandle_EmptyTokenIsFailure(t *testing.T) {
	c := new(mockCollaborator)
	c.On("Create", mock.Anything, mock.Anything).Return("  ", nil).Once()

	out := NewHandler(c, 0, nil).Handle(context.Background(), validRequest())

	assert.ErrorIs(t, out.Err, ErrEmptyResult)
	assert.False(t, out.OK())
}

func TestDryRun(t *testing.T) {
	tok, err := DryRun{}.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "dryrun-asset-"))
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantTok  string
		wantKind string
	}{
		{"id response", http.StatusCreated, `{"id":"mint-1"}`, "mint-1", ""},
		{"token response", http.StatusOK, `{"token":"abc"}`, "abc", ""},
		{"validation", http.StatusUnprocessableEntity, `{"error":"ticker taken"}`, "", "validation"},
		{"upstream", http.StatusBadGateway, ``, "", "upstream"},
		{"non-json success", http.StatusOK, `<html>ok</html>`, "", "upstream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				var got webhookRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				assert.Equal(t, "FOO", got.Fields["ticker"])
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			wh := &Webhook{URL: srv.URL, Token: "secret", Client: srv.Client()}
			tok, err := wh.Create(context.Background(), validRequest())
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, Category(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTok, tok)
		})
	}
}

func TestWebhook_UndecodableSuccessNamesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("minted"))
	}))
	defer srv.Close()

	wh := &Webhook{URL: srv.URL, Client: srv.Client()}
	_, err := wh.Create(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyResult)
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, http.StatusOK, up.StatusCode)
	assert.Contains(t, err.Error(), "decode webhook response")
}
