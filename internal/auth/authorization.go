package auth

import (
	"context"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

// Principal is the caller a protected request runs as
type Principal struct {
	UserID string // empty when a mobile ID token names an unknown email
	Email  string
	Role   entities.Role

	// Credential is the artifact the gate accepted
	Credential Credential
	ExpiresAt  time.Time
}

// Device returns the channel the principal authenticated through
func (p *Principal) Device() entities.DeviceKind {
	return p.Credential.Device()
}

// contextKey is the key for storing the principal in context
type contextKey struct{}

// WithPrincipal stores the authenticated principal in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext extracts the authenticated principal from the context
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	if !ok || p == nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "Not authenticated")
	}
	return p, nil
}

// RequireAdmin checks if the caller is an admin
func RequireAdmin(ctx context.Context) error {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		return err
	}
	if p.Role != entities.RoleAdmin {
		return apperr.New(apperr.ErrForbidden, "Admin access required")
	}
	return nil
}
