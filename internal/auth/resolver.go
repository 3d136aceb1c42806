package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

// IDTokenVerifier verifies ID tokens presented by mobile clients
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.Claims, error)
}

// UserLookup finds identities by email
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
}

// Resolver turns a credential into the principal a request runs as.
// Mobile credentials are verified again on every call.
type Resolver struct {
	verifier IDTokenVerifier
	tokens   *JWTManager
	users    UserLookup
	now      func() time.Time
}

// NewResolver creates a resolver
func NewResolver(verifier IDTokenVerifier, tokens *JWTManager, users UserLookup) *Resolver {
	return &Resolver{
		verifier: verifier,
		tokens:   tokens,
		users:    users,
		now:      time.Now,
	}
}

// Resolve verifies cred and returns its principal
func (res *Resolver) Resolve(ctx context.Context, cred Credential) (*Principal, error) {
	switch c := cred.(type) {
	case WebCredential:
		return res.resolveWeb(c)
	case MobileCredential:
		if IsSessionToken(c.IDToken) {
			return res.resolveSessionToken(c)
		}
		return res.resolveIDToken(ctx, c)
	default:
		return nil, apperr.New(apperr.ErrUnauthorized, "Not authenticated")
	}
}

func (res *Resolver) resolveWeb(c WebCredential) (*Principal, error) {
	if c.Artifact.IsExpired(res.now()) {
		return nil, apperr.New(apperr.ErrUnauthorized, "Session expired")
	}
	if c.Artifact.UserID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "Not authenticated")
	}
	return &Principal{
		UserID:     c.Artifact.UserID,
		Role:       c.Artifact.Role,
		Credential: c,
		ExpiresAt:  c.Artifact.ExpiresAt,
	}, nil
}

func (res *Resolver) resolveSessionToken(c MobileCredential) (*Principal, error) {
	claims, err := res.tokens.ValidateToken(c.IDToken)
	if err != nil {
		return nil, err
	}
	role, ok := entities.ParseRole(claims.Role)
	if !ok {
		role = entities.RoleUser
	}

	p := &Principal{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Role:       role,
		Credential: c,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (res *Resolver) resolveIDToken(ctx context.Context, c MobileCredential) (*Principal, error) {
	claims, err := res.verifier.VerifyIDToken(ctx, c.IDToken)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		Email:      claims.Email,
		Role:       entities.RoleUser,
		Credential: c,
		ExpiresAt:  claims.ExpiresAt,
	}

	user, err := res.users.GetByEmail(ctx, claims.Email)
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("look up identity: %w", err)
	}
	p.UserID = user.ID
	p.Role = user.Role
	return p, nil
}
