package entities

import (
	"strings"
	"time"
)

// ProviderGoogle is the only identity provider the service accepts.
const ProviderGoogle = "google"

// User is the durable identity record, keyed by email.
type User struct {
	ID             string     `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	Picture        *string    `json:"picture,omitempty" db:"picture"`
	Provider       string     `json:"provider" db:"provider"`
	ProviderUserID *string    `json:"provider_user_id,omitempty" db:"provider_user_id"` // Google subject
	Role           Role       `json:"role" db:"role"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	IsVerified     bool       `json:"is_verified" db:"is_verified"` // provider asserted email_verified
	IsDeleted      bool       `json:"is_deleted" db:"is_deleted"`
	IsBanned       bool       `json:"is_banned" db:"is_banned"`
	IsBlocked      bool       `json:"is_blocked" db:"is_blocked"`
	IsSuspended    bool       `json:"is_suspended" db:"is_suspended"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin      *time.Time `json:"last_login,omitempty" db:"last_login_at"`
}

// Role represents user roles in the system
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// NormalizeEmail returns the canonical form used as the identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAdmin returns true if the user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsBlockedFromLogin reports whether any status flag forbids a new session.
func (u *User) IsBlockedFromLogin() bool {
	return !u.IsActive || u.IsDeleted || u.IsBanned || u.IsBlocked || u.IsSuspended
}

// BlockReason names the first status flag that forbids login, or "".
func (u *User) BlockReason() string {
	switch {
	case u.IsDeleted:
		return "deleted"
	case u.IsBanned:
		return "banned"
	case u.IsBlocked:
		return "blocked"
	case u.IsSuspended:
		return "suspended"
	case !u.IsActive:
		return "inactive"
	}
	return ""
}

// PictureURL returns the picture or "" when unset.
func (u *User) PictureURL() string {
	if u.Picture == nil {
		return ""
	}
	return *u.Picture
}
