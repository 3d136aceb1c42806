// Package respond writes the JSON bodies every API route answers with.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/logger"
)

// Message is the body of error responses and of bodiless successes
type Message struct {
	Message string `json:"message"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("failed to write response body", slog.String("error", err.Error()))
	}
}

// Error maps err to a status and writes {message}. Server side failures
// are logged with the request logger; their detail is only exposed outside
// production.
func Error(w http.ResponseWriter, r *http.Request, err error, production bool) {
	status := apperr.Status(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()))
	} else {
		log.Debug("request rejected",
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
	JSON(w, status, Message{Message: apperr.PublicMessage(err, production)})
}
