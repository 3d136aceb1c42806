package sessionstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

// RunJanitor removes expired sessions and refreshes the active session gauge
// every interval until ctx is done.
func RunJanitor(ctx context.Context, repo repositories.SessionRepository, interval time.Duration) {
	log := slog.Default().With(slog.String("component", "session-janitor"))
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweep(ctx, repo, log)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, repo repositories.SessionRepository, log *slog.Logger) {
	deleted, err := repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		log.Warn("failed to delete expired sessions", slog.String("error", err.Error()))
	} else if deleted > 0 {
		log.Info("deleted expired sessions", slog.Int64("count", deleted))
	}

	active, err := repo.CountActive(ctx)
	if err != nil {
		log.Warn("failed to count active sessions", slog.String("error", err.Error()))
		return
	}
	metrics.ActiveSessions.Set(float64(active))
}
