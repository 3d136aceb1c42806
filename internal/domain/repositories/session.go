package repositories

import (
	"context"
	"time"
)

// SessionRepository stores encoded web session payloads keyed by an
// opaque session id. Implementations must treat expired records as absent.
type SessionRepository interface {
	// Get returns the payload of an unexpired session or ErrSessionNotFound
	Get(ctx context.Context, id string) (string, error)

	// Save creates or replaces a session payload
	Save(ctx context.Context, id, data string, expiresAt time.Time) error

	// Delete removes a session; deleting a missing session is not an error
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes sessions that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// CountActive returns the number of unexpired sessions
	CountActive(ctx context.Context) (int64, error)
}
