package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devilmonastery/critterforge/internal/pkg/logger"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestInfo is filled in by inner middleware and read by LogRequest
type requestInfo struct {
	userID string
	device string
}

type infoKey struct{}

func infoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(infoKey{}).(*requestInfo)
	return info
}

// RequestID assigns every request an id, echoes it in X-Request-ID and
// puts a logger carrying it in the request context. An incoming id is
// kept when it parses as a UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		log := logger.WithHTTPRequest(logger.WithRequest(slog.Default(), id), r.Method, r.URL.Path)
		ctx := logger.IntoContext(r.Context(), log)
		ctx = context.WithValue(ctx, infoKey{}, &requestInfo{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LogRequest writes one structured entry per request
func LogRequest(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip logging health checks to reduce noise
			if r.URL.Path == "/health" || r.URL.Path == "/readiness" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r)

			attrs := []slog.Attr{
				slog.Int("status", wrapped.statusCode),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int64("bytes", wrapped.written),
				slog.String("client_ip", ClientIP(r, trustProxy)),
				slog.String("user_agent", r.UserAgent()),
				slog.String("proto", r.Proto),
			}
			if r.URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", redactQuery(r)))
			}
			if info := infoFromContext(r.Context()); info != nil && info.userID != "" {
				attrs = append(attrs, slog.String("user_id", info.userID), slog.String("device", info.device))
			}

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.FromContext(r.Context()).LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// ClientIP returns the caller address, preferring proxy headers when the
// deployment sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			return forwarded
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
	}
	return r.RemoteAddr
}

// redactQuery drops OAuth codes and state from logged query strings
func redactQuery(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"code", "state", "id_token"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	return q.Encode()
}
