package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

func TestError(t *testing.T) {
	upstream := apperr.Wrap(apperr.ErrUpstreamService, "Image generation failed", errors.New("dial tcp 10.0.0.1: refused"))

	tests := []struct {
		name        string
		err         error
		production  bool
		wantStatus  int
		wantMessage string
	}{
		{"bad request", apperr.New(apperr.ErrInvalidRequest, "Authorization code is required"), true, 400, "Authorization code is required"},
		{"unauthorized", apperr.New(apperr.ErrUnauthorized, "Not authenticated"), true, 401, "Not authenticated"},
		{"not found", apperr.New(apperr.ErrNotFound, "User not found"), true, 404, "User not found"},
		{"upstream prod", upstream, true, 502, "Upstream service unavailable"},
		{"upstream dev", upstream, false, 502, "Image generation failed: dial tcp 10.0.0.1: refused"},
		{"internal prod", errors.New("pq: relation users does not exist"), true, 500, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, tt.production)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body Message
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %q", rec.Body.String())
			}
			if body.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMessage)
			}
		})
	}
}

func TestJSONHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("responses must not be cached")
	}
}
