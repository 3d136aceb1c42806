package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

var _ repositories.AuditRepository = (*AuditRepository)(nil)

// AuditRepository implements the AuditRepository interface for PostgreSQL
type AuditRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "audit")),
	}
}

// auditLogRow represents an audit log as stored in the database
type auditLogRow struct {
	ID         string         `db:"id"`
	UserID     sql.NullString `db:"user_id"`
	Action     string         `db:"action"`
	Resource   string         `db:"resource_type"`
	ResourceID sql.NullString `db:"resource_id"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  sql.NullString `db:"user_agent"`
	Metadata   string         `db:"metadata"`
	Success    bool           `db:"success"`
	ErrorMsg   sql.NullString `db:"error_message"`
	CreatedAt  time.Time      `db:"created_at"`
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// toEntity converts an auditLogRow to a domain entity
func (r *auditLogRow) toEntity() (*entities.AuditLog, error) {
	auditLog := &entities.AuditLog{
		ID:         r.ID,
		UserID:     stringPtr(r.UserID),
		Action:     entities.AuditAction(r.Action),
		Resource:   entities.AuditResource(r.Resource),
		ResourceID: stringPtr(r.ResourceID),
		IPAddress:  stringPtr(r.IPAddress),
		UserAgent:  stringPtr(r.UserAgent),
		Success:    r.Success,
		ErrorMsg:   stringPtr(r.ErrorMsg),
		CreatedAt:  r.CreatedAt,
	}

	if err := auditLog.UnmarshalMetadataFromJSON(r.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return auditLog, nil
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("audit", "create", time.Since(start), 1, err)
	}()

	if log.ID == "" {
		log.ID = idgen.GenerateID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	r.log.Debug("creating audit log",
		slog.String("action", string(log.Action)),
		slog.String("resource", string(log.Resource)),
		slog.Any("resource_id", log.ResourceID),
		slog.Any("user_id", log.UserID))

	metadata, err := log.MarshalMetadataToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	row := &auditLogRow{
		ID:         log.ID,
		UserID:     nullString(log.UserID),
		Action:     string(log.Action),
		Resource:   string(log.Resource),
		ResourceID: nullString(log.ResourceID),
		IPAddress:  nullString(log.IPAddress),
		UserAgent:  nullString(log.UserAgent),
		Metadata:   metadata,
		Success:    log.Success,
		ErrorMsg:   nullString(log.ErrorMsg),
		CreatedAt:  log.CreatedAt,
	}

	query := `INSERT INTO audit_logs (
			id, user_id, action, resource_type, resource_id, ip_address, user_agent,
			metadata, success, error_message, created_at
		) VALUES (
			:id, :user_id, :action, :resource_type, :resource_id, :ip_address, :user_agent,
			:metadata, :success, :error_message, :created_at
		)`

	if _, err = r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByUser retrieves audit logs for a specific user, newest first
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entities.AuditLog, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("audit", "list_by_user", time.Since(start), rowCount, err)
	}()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []auditLogRow
	err = r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, action, resource_type, resource_id, ip_address, user_agent,
		       metadata, success, error_message, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]*entities.AuditLog, 0, len(rows))
	for i := range rows {
		entry, convErr := rows[i].toEntity()
		if convErr != nil {
			err = convErr
			return nil, err
		}
		logs = append(logs, entry)
	}
	rowCount = int64(len(logs))
	return logs, nil
}

// DeleteBefore removes entries older than before
func (r *AuditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("audit", "delete_before", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	return rowsAffected, err
}
