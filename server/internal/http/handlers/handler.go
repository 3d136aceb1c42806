// Package handlers implements the JSON API routes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/devilmonastery/critterforge/internal/auth"
	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/services"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/server/internal/http/middleware"
)

// OAuthProvider is the Google side of a login
type OAuthProvider interface {
	AuthCodeURL(state, codeVerifier string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oidc.Claims, *oidc.TokenBundle, error)
	ExchangeMobileCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oidc.Claims, *oidc.TokenBundle, error)
	VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.Claims, error)
}

// IdentityStore persists identities and their login history
type IdentityStore interface {
	UpsertFromClaims(ctx context.Context, claims *oidc.Claims, client services.ClientInfo) (*entities.User, error)
	Lookup(ctx context.Context, id, email string) (*entities.User, error)
	RecordLogout(ctx context.Context, userID string, client services.ClientInfo)
	RecordLoginFailure(ctx context.Context, client services.ClientInfo, err error)
}

// SessionIssuer hands out and revokes session artifacts
type SessionIssuer interface {
	IssueWeb(w http.ResponseWriter, r *http.Request, user *entities.User, claims *oidc.Claims, tokens *oidc.TokenBundle) (*entities.SessionArtifact, error)
	IssueMobile(user *entities.User, claims *oidc.Claims, rawIDToken string) (*entities.SessionArtifact, error)
	Revoke(w http.ResponseWriter, r *http.Request) error
}

// ArtifactReader reads the web session on a request without requiring one
type ArtifactReader interface {
	Artifact(r *http.Request) (*entities.SessionArtifact, bool)
}

// CreatureMaker is the asset pipeline
type CreatureMaker interface {
	Create(ctx context.Context, ownerID string, img services.ImageInput) (*entities.Creature, error)
	Describe(ctx context.Context, ownerID string, img services.ImageInput) (*entities.CreatureSheet, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*entities.Creature, int64, error)
	Get(ctx context.Context, ownerID, id string, admin bool) (*entities.Creature, error)
}

// userResponse is the public view of an identity in login responses
type userResponse struct {
	Email string        `json:"email"`
	Name  string        `json:"name"`
	Role  entities.Role `json:"role"`
}

func clientInfo(r *http.Request, channel entities.DeviceKind, trustProxy bool) services.ClientInfo {
	return services.ClientInfo{
		Channel:   channel,
		IPAddress: middleware.ClientIP(r, trustProxy),
		UserAgent: r.UserAgent(),
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, maxBytes int64, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, _ := mime.ParseMediaType(ct); mediaType != "application/json" {
			return apperr.New(apperr.ErrInvalidRequest, "Expected a JSON body")
		}
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Wrap(apperr.ErrInvalidRequest, "Invalid JSON payload", err)
}

// principal returns the caller set by RequireIdentity
func principal(r *http.Request) (*auth.Principal, error) {
	return auth.PrincipalFromContext(r.Context())
}
