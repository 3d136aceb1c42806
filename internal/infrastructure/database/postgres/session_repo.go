package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// SessionRepository stores web sessions in the http_sessions table
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{
		db: db,
	}
}

// Get returns the payload of an unexpired session
func (r *SessionRepository) Get(ctx context.Context, id string) (string, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("session", "get", time.Since(start), rowCount, err)
	}()

	var data string
	err = r.db.GetContext(ctx, &data,
		`SELECT data FROM http_sessions WHERE id = $1 AND expires_at > NOW()`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrSessionNotFound
			return "", err
		}
		return "", fmt.Errorf("failed to get session: %w", err)
	}

	rowCount = 1
	return data, nil
}

// Save creates or replaces a session payload
func (r *SessionRepository) Save(ctx context.Context, id, data string, expiresAt time.Time) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("session", "save", time.Since(start), 1, err)
	}()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO http_sessions (id, data, created_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (id) DO UPDATE SET
			data       = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at`,
		id, data, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("session", "delete", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM http_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rowsAffected, _ = result.RowsAffected()
	return nil
}

// DeleteExpired removes sessions that expired before the given time
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("session", "delete_expired", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM http_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// CountActive returns the number of unexpired sessions
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM http_sessions WHERE expires_at > NOW()`); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}
