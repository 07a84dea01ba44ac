package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	h := SPAHandler()

	tests := []struct {
		path       string
		wantStatus int
		wantViewer bool
	}{
		{"/", http.StatusOK, true},
		{"/sessions/backrooms", http.StatusOK, true},
		{"/api/unknown", http.StatusNotFound, false},
		{"/ws/extra", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
		}
		if got := strings.Contains(rec.Body.String(), "<title>backroom</title>"); got != tt.wantViewer {
			t.Errorf("%s: viewer served = %v, want %v", tt.path, got, tt.wantViewer)
		}
	}
}
