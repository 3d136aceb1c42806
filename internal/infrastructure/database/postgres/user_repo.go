package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

var _ repositories.UserRepository = (*UserRepository)(nil)

// UserRepository implements the UserRepository interface for PostgreSQL
type UserRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "user")),
	}
}

const userColumns = `id, email, name, picture, provider, provider_user_id, role,
	is_active, is_verified, is_deleted, is_banned, is_blocked, is_suspended,
	created_at, updated_at, last_login_at`

// userRow represents a user as stored in the database
type userRow struct {
	ID             string         `db:"id"`
	Email          string         `db:"email"`
	Name           string         `db:"name"`
	Picture        sql.NullString `db:"picture"`
	Provider       string         `db:"provider"`
	ProviderUserID sql.NullString `db:"provider_user_id"`
	Role           string         `db:"role"`
	IsActive       bool           `db:"is_active"`
	IsVerified     bool           `db:"is_verified"`
	IsDeleted      bool           `db:"is_deleted"`
	IsBanned       bool           `db:"is_banned"`
	IsBlocked      bool           `db:"is_blocked"`
	IsSuspended    bool           `db:"is_suspended"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	LastLogin      sql.NullTime   `db:"last_login_at"`
}

// upsertRow adds the inserted marker returned by UpsertByEmail
type upsertRow struct {
	userRow
	Inserted bool `db:"inserted"`
}

// toEntity converts a userRow to a domain entity
func (r *userRow) toEntity() *entities.User {
	user := &entities.User{
		ID:          r.ID,
		Email:       r.Email,
		Name:        r.Name,
		Provider:    r.Provider,
		Role:        entities.Role(r.Role),
		IsActive:    r.IsActive,
		IsVerified:  r.IsVerified,
		IsDeleted:   r.IsDeleted,
		IsBanned:    r.IsBanned,
		IsBlocked:   r.IsBlocked,
		IsSuspended: r.IsSuspended,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.Picture.Valid {
		user.Picture = &r.Picture.String
	}
	if r.ProviderUserID.Valid {
		user.ProviderUserID = &r.ProviderUserID.String
	}
	if r.LastLogin.Valid {
		user.LastLogin = &r.LastLogin.Time
	}

	return user
}

// userRowFromEntity converts a domain entity to a userRow
func userRowFromEntity(user *entities.User) *userRow {
	row := &userRow{
		ID:          user.ID,
		Email:       entities.NormalizeEmail(user.Email),
		Name:        user.Name,
		Provider:    user.Provider,
		Role:        string(user.Role),
		IsActive:    user.IsActive,
		IsVerified:  user.IsVerified,
		IsDeleted:   user.IsDeleted,
		IsBanned:    user.IsBanned,
		IsBlocked:   user.IsBlocked,
		IsSuspended: user.IsSuspended,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}

	if row.Provider == "" {
		row.Provider = entities.ProviderGoogle
	}
	if row.Role == "" {
		row.Role = string(entities.RoleUser)
	}
	if user.Picture != nil {
		row.Picture = sql.NullString{String: *user.Picture, Valid: true}
	}
	if user.ProviderUserID != nil {
		row.ProviderUserID = sql.NullString{String: *user.ProviderUserID, Valid: true}
	}
	if user.LastLogin != nil {
		row.LastLogin = sql.NullTime{Time: *user.LastLogin, Valid: true}
	}

	return row
}

// UpsertByEmail inserts a user or refreshes the login fields of the row that
// already owns the email. A nil LastLogin is recorded as now. The single statement makes concurrent logins for
// the same email converge on one row.
func (r *UserRepository) UpsertByEmail(ctx context.Context, user *entities.User) (*entities.User, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("user", "upsert_by_email", time.Since(start), 1, err)
	}()

	if user.ID == "" {
		user.ID = idgen.GenerateID()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.LastLogin == nil {
		user.LastLogin = &now
	}

	row := userRowFromEntity(user)
	if row.Email == "" {
		err = errors.New("email is required")
		return nil, false, err
	}

	r.log.Debug("upserting user",
		slog.String("candidate_id", row.ID),
		slog.String("email", row.Email))

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (
			:id, :email, :name, :picture, :provider, :provider_user_id, :role,
			:is_active, :is_verified, :is_deleted, :is_banned, :is_blocked, :is_suspended,
			:created_at, :updated_at, :last_login_at
		)
		ON CONFLICT (email) DO UPDATE SET
			name             = EXCLUDED.name,
			picture          = COALESCE(EXCLUDED.picture, users.picture),
			provider         = EXCLUDED.provider,
			provider_user_id = COALESCE(EXCLUDED.provider_user_id, users.provider_user_id),
			is_verified      = EXCLUDED.is_verified,
			updated_at       = EXCLUDED.updated_at,
			last_login_at    = COALESCE(EXCLUDED.last_login_at, users.last_login_at)
		RETURNING ` + userColumns + `, (xmax = 0) AS inserted`

	rows, err := r.db.NamedQueryContext(ctx, query, row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		err = rows.Err()
		if err == nil {
			err = errors.New("upsert returned no row")
		}
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	var out upsertRow
	if err = rows.StructScan(&out); err != nil {
		return nil, false, fmt.Errorf("failed to scan upserted user: %w", err)
	}

	return out.toEntity(), out.Inserted, nil
}

// GetByID retrieves a user by their ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "get_by_id", time.Since(start), rowCount, err)
	}()

	var row userRow
	err = r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrUserNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rowCount = 1
	return row.toEntity(), nil
}

// GetByEmail retrieves a user by their email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "get_by_email", time.Since(start), rowCount, err)
	}()

	var row userRow
	err = r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		entities.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrUserNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	rowCount = 1
	return row.toEntity(), nil
}

// List users with pagination and optional filtering
func (r *UserRepository) List(ctx context.Context, opts repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "list", time.Since(start), rowCount, err)
	}()

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Role != nil {
		where = append(where, "role = "+arg(string(*opts.Role)))
	}
	if opts.IsActive != nil {
		where = append(where, "is_active = "+arg(*opts.IsActive))
	}
	if opts.Search != "" {
		p := arg("%" + strings.ToLower(opts.Search) + "%")
		where = append(where, "(LOWER(name) LIKE "+p+" OR email LIKE "+p+")")
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+whereClause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + userColumns + ` FROM users` + whereClause +
		` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(opts.Offset)

	var rows []userRow
	if err = r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*entities.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toEntity())
	}
	rowCount = int64(len(users))
	return users, total, nil
}

// UpdateRole changes a user's role
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role entities.Role) error {
	return r.execByID(ctx, "update_role",
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, string(role))
}

// SetActive toggles the active flag
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.execByID(ctx, "set_active",
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SoftDelete marks the user deleted
func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	return r.execByID(ctx, "soft_delete",
		`UPDATE users SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// execByID runs an update keyed by user id and maps zero rows to ErrUserNotFound
func (r *UserRepository) execByID(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("user", operation, time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(operation, "_", " "), err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		err = repositories.ErrUserNotFound
		return err
	}
	return nil
}
