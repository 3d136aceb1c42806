package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/token", "/token"},
		{"/oauth2/v3/certs", "/oauth2/v3/certs"},
		{"/v1/files/file-abc123", "/v1/files/:id"},
		{"/v1/things/12345/children/678", "/v1/things/:id/children/:id"},
		{"/b/bucket/o/0123456789abcdef0123", "/b/bucket/o/:id"},
		{"", "/"},
	}

	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.expected {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   string
	}{
		{"bad request", 400, nil, "bad_request"},
		{"unauthorized", 401, nil, "unauthorized"},
		{"rate limited", 429, nil, "rate_limited"},
		{"teapot", 418, nil, "client_error"},
		{"server error", 503, nil, "server_error"},
		{"deadline", 0, context.DeadlineExceeded, "timeout"},
		{"refused", 0, errors.New("dial tcp: connection refused"), "connection"},
		{"other", 0, errors.New("boom"), "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyHTTPError(tt.statusCode, tt.err); got != tt.expected {
				t.Errorf("classifyHTTPError(%d, %v) = %q, want %q", tt.statusCode, tt.err, got, tt.expected)
			}
		})
	}
}

func TestTransportRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining-Requests", "41")
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport("transport-test", nil)}
	for _, path := range []string{"/ok", "/fail"} {
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	if got := testutil.ToFloat64(UpstreamHTTPRequests.WithLabelValues("transport-test", "GET", "/ok", "200")); got != 1 {
		t.Errorf("ok requests = %v", got)
	}
	if got := testutil.ToFloat64(UpstreamHTTPErrors.WithLabelValues("transport-test", "/fail", "rate_limited")); got != 1 {
		t.Errorf("rate limited errors = %v", got)
	}
	if got := testutil.ToFloat64(UpstreamRateLimitRemaining.WithLabelValues("transport-test")); got != 41 {
		t.Errorf("remaining = %v", got)
	}
}
