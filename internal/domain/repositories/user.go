package repositories

import (
	"context"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	// UpsertByEmail inserts the user or, when the email already exists,
	// refreshes name, picture, provider subject, verification and last
	// login in one atomic statement. It returns the stored row and whether
	// it was newly created. Status flags and role of an existing row are
	// never overwritten.
	UpsertByEmail(ctx context.Context, user *entities.User) (*entities.User, bool, error)

	// GetByID retrieves a user by their ID, regardless of status flags
	GetByID(ctx context.Context, id string) (*entities.User, error)

	// GetByEmail retrieves a user by their normalized email address
	GetByEmail(ctx context.Context, email string) (*entities.User, error)

	// List users with pagination and optional filtering
	List(ctx context.Context, opts ListUsersOptions) ([]*entities.User, int64, error)

	// UpdateRole changes a user's role
	UpdateRole(ctx context.Context, id string, role entities.Role) error

	// SetActive toggles the active flag
	SetActive(ctx context.Context, id string, active bool) error

	// SoftDelete marks the user deleted; rows are never removed
	SoftDelete(ctx context.Context, id string) error
}

// ListUsersOptions provides filtering and pagination options for listing users
type ListUsersOptions struct {
	Limit  int
	Offset int

	Role     *entities.Role
	IsActive *bool
	Search   string // matches name or email
}
