package metrics

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamHTTPRequests tracks raw HTTP exchanges with external services
	UpstreamHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_upstream_http_requests_total",
			Help: "HTTP requests to external services by service, route, and status code",
		},
		[]string{"service", "method", "route", "status"},
	)

	// UpstreamHTTPDuration tracks the latency of single HTTP exchanges
	UpstreamHTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "critterforge_upstream_http_duration_ms",
			Help:                            "External HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"service", "method", "route"},
	)

	// UpstreamHTTPErrors tracks failed exchanges by error type
	UpstreamHTTPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_upstream_http_errors_total",
			Help: "Failed external HTTP requests by service, route, and error type",
		},
		[]string{"service", "route", "error_type"},
	)

	// UpstreamRateLimitRemaining tracks the request budget reported by the service
	UpstreamRateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "critterforge_upstream_ratelimit_remaining",
			Help: "Remaining requests before the external service rate limits",
		},
		[]string{"service"},
	)
)

// rateLimitHeaders are checked in order; the first present one wins
var rateLimitHeaders = []string{"X-Ratelimit-Remaining-Requests", "X-RateLimit-Remaining"}

type upstreamTransport struct {
	service string
	base    http.RoundTripper
}

// NewTransport wraps base so every request is counted and timed under
// service. A nil base means http.DefaultTransport.
func NewTransport(service string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &upstreamTransport{service: service, base: base}
}

// RoundTrip implements http.RoundTripper
func (t *upstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	route := normalizeRoute(req.URL.Path)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
		trackRateLimit(resp, t.service)
	}

	UpstreamHTTPRequests.WithLabelValues(t.service, req.Method, route, strconv.Itoa(statusCode)).Inc()
	UpstreamHTTPDuration.WithLabelValues(t.service, req.Method, route).Observe(float64(duration.Milliseconds()))
	if err != nil || statusCode >= 400 {
		UpstreamHTTPErrors.WithLabelValues(t.service, route, classifyHTTPError(statusCode, err)).Inc()
	}

	return resp, err
}

func trackRateLimit(resp *http.Response, service string) {
	for _, h := range rateLimitHeaders {
		if v := resp.Header.Get(h); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				UpstreamRateLimitRemaining.WithLabelValues(service).Set(float64(n))
			}
			return
		}
	}
}

var routeIDPatterns = []struct {
	regex   *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`/\d+(/|$)`), "/:id$1"},
	{regexp.MustCompile(`/[0-9a-f]{16,}(/|$)`), "/:id$1"},
	{regexp.MustCompile(`/(file|img|chatcmpl|resp)-[A-Za-z0-9]+`), "/:id"},
}

// normalizeRoute replaces identifiers in a path with placeholders to keep
// label cardinality bounded.
func normalizeRoute(path string) string {
	if path == "" {
		return "/"
	}
	normalized := path
	for _, p := range routeIDPatterns {
		normalized = p.regex.ReplaceAllString(normalized, p.replace)
	}
	return normalized
}

// classifyHTTPError categorizes a failed exchange for metrics
func classifyHTTPError(statusCode int, err error) string {
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return "timeout"
		}
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
			return "timeout"
		case strings.Contains(errStr, "connection"):
			return "connection"
		case strings.Contains(errStr, "tls") || strings.Contains(errStr, "TLS"):
			return "tls"
		default:
			return "network"
		}
	}

	switch {
	case statusCode == 400:
		return "bad_request"
	case statusCode == 401:
		return "unauthorized"
	case statusCode == 403:
		return "forbidden"
	case statusCode == 404:
		return "not_found"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
