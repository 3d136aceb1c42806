package repositories

import (
	"context"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
)

// AuditRepository defines the interface for audit log data access
type AuditRepository interface {
	// Create a new audit log entry
	Create(ctx context.Context, log *entities.AuditLog) error

	// ListByUser retrieves audit logs for a specific user, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*entities.AuditLog, error)

	// DeleteBefore removes entries older than before (cleanup job)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
