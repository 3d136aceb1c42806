package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "critterforge_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBRowsAffected tracks rows affected or returned by an operation
	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "critterforge_db_rows_affected",
			Help:                            "Number of rows affected or returned by database operations",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// HTTP Handler Metrics
var (
	// HTTPRequests tracks total HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_http_requests_total",
			Help: "Total HTTP requests by route, method, and status code",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPDuration tracks HTTP request latency
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "critterforge_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"route", "method"},
	)

	// HTTPActiveRequests tracks in-flight HTTP requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "critterforge_http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Auth Metrics
var (
	// LoginAttempts tracks logins by channel (web, mobile) and outcome
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_login_attempts_total",
			Help: "Login attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// GateDecisions tracks access gate outcomes by device kind
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_gate_decisions_total",
			Help: "Access gate decisions by device kind and decision",
		},
		[]string{"device", "decision"},
	)

	// SessionsIssued tracks issued session artifacts by device kind
	SessionsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_sessions_issued_total",
			Help: "Session artifacts issued by device kind",
		},
		[]string{"device"},
	)

	// ActiveSessions tracks server-side sessions still in the store
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "critterforge_active_sessions",
			Help: "Number of unexpired server-side sessions",
		},
	)
)

// Upstream Service Metrics
var (
	// UpstreamCalls tracks calls to external services (oauth, openai, storage)
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critterforge_upstream_calls_total",
			Help: "Calls to external services by service, operation, and status",
		},
		[]string{"service", "operation", "status"},
	)

	// UpstreamDuration tracks external service latency
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "critterforge_upstream_duration_ms",
			Help:                            "External service call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"service", "operation"},
	)
)

// Business Metrics
var (
	// CreaturesCreated tracks creatures produced by the asset pipeline
	CreaturesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "critterforge_creatures_created_total",
			Help: "Creatures created through the asset pipeline",
		},
	)

	// IdentitiesCreated tracks first-time logins
	IdentitiesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "critterforge_identities_created_total",
			Help: "Identities created on first login",
		},
	)
)
