package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/devilmonastery/critterforge/internal/pkg/logger"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// Recover turns a panicking handler into a 500 JSON response
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrap(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context()).Error("panic serving request",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			if !wrapped.wroteHeader {
				respond.JSON(wrapped, http.StatusInternalServerError, respond.Message{Message: "Internal server error"})
			}
		}()
		next.ServeHTTP(wrapped, r)
	})
}
