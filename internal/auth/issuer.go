package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

// IssuerConfig controls session lifetime and cookie attributes
type IssuerConfig struct {
	CookieName string
	TTL        time.Duration

	// Secure forces the Secure cookie attribute. Without it the attribute
	// follows the request scheme.
	Secure bool

	// TrustProxy honors X-Forwarded-Proto when deciding the request scheme
	TrustProxy bool

	// TokenLifetime caps mobile session tokens below TTL when set
	TokenLifetime time.Duration
}

// Issuer turns a verified login into a session artifact
type Issuer struct {
	cfg    IssuerConfig
	store  SessionStore
	tokens *JWTManager
	now    func() time.Time
	log    *slog.Logger
}

// NewIssuer creates an issuer storing web sessions in store and signing
// mobile tokens with tokens.
func NewIssuer(cfg IssuerConfig, store SessionStore, tokens *JWTManager) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &Issuer{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		now:    time.Now,
		log:    slog.Default().With(slog.String("component", "session-issuer")),
	}
}

// IssueWeb stores a session artifact server side under a fresh session id
// and sets the session cookie.
func (i *Issuer) IssueWeb(w http.ResponseWriter, r *http.Request, user *entities.User, claims *oidc.Claims, tokens *oidc.TokenBundle) (*entities.SessionArtifact, error) {
	if err := checkIssuable(user, claims, i.now()); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, apperr.New(apperr.ErrInvalidToken, "Token response did not include an access token")
	}

	artifact := entities.SessionArtifact{
		UserID:      user.ID,
		Role:        user.Role,
		Device:      entities.DeviceWeb,
		AccessToken: tokens.AccessToken,
		IDToken:     tokens.IDToken,
		TokenType:   tokens.TokenType,
		ExpiresAt:   i.expiry(claims.ExpiresAt, tokens.Expiry),
	}

	// A decode error means a stale or foreign cookie; start from a new session.
	session, err := i.store.Get(r, i.cfg.CookieName)
	if err != nil {
		i.log.Debug("replacing unreadable session", slog.String("error", err.Error()))
	}
	if err := i.store.Regenerate(r, session); err != nil {
		return nil, fmt.Errorf("regenerate session: %w", err)
	}

	session.Values[artifactKey] = artifact
	session.Options.MaxAge = int(i.cfg.TTL / time.Second)
	session.Options.Secure = i.secure(r)
	if err := session.Save(r, w); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	metrics.SessionsIssued.WithLabelValues(string(entities.DeviceWeb)).Inc()
	i.log.Info("web session issued",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", artifact.ExpiresAt))
	return &artifact, nil
}

// IssueMobile builds an artifact for a native client. Nothing is stored
// server side; the access token is a signed session token.
func (i *Issuer) IssueMobile(user *entities.User, claims *oidc.Claims, rawIDToken string) (*entities.SessionArtifact, error) {
	if err := checkIssuable(user, claims, i.now()); err != nil {
		return nil, err
	}

	var lifetimeCap time.Time
	if i.cfg.TokenLifetime > 0 {
		lifetimeCap = i.now().Add(i.cfg.TokenLifetime)
	}
	expiresAt := i.expiry(claims.ExpiresAt, lifetimeCap)
	token, err := i.tokens.GenerateToken(user.ID, user.Email, string(user.Role), expiresAt)
	if err != nil {
		return nil, err
	}

	metrics.SessionsIssued.WithLabelValues(string(entities.DeviceMobile)).Inc()
	return &entities.SessionArtifact{
		UserID:      user.ID,
		Role:        user.Role,
		Device:      entities.DeviceMobile,
		AccessToken: token,
		IDToken:     rawIDToken,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// Revoke deletes the caller's web session and expires the cookie. Calling
// it without a session is not an error.
func (i *Issuer) Revoke(w http.ResponseWriter, r *http.Request) error {
	session, err := i.store.Get(r, i.cfg.CookieName)
	if err != nil {
		i.log.Debug("revoking unreadable session", slog.String("error", err.Error()))
	}
	session.Options.Secure = i.secure(r)
	if err := i.store.Destroy(r, w, session); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// expiry is the earliest of now+TTL and every non-zero token expiry
func (i *Issuer) expiry(tokenExpiries ...time.Time) time.Time {
	expiresAt := i.now().Add(i.cfg.TTL)
	for _, t := range tokenExpiries {
		if !t.IsZero() && t.Before(expiresAt) {
			expiresAt = t
		}
	}
	return expiresAt
}

func (i *Issuer) secure(r *http.Request) bool {
	if i.cfg.Secure || r.TLS != nil {
		return true
	}
	return i.cfg.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https"
}

var errNoClaims = errors.New("no valid verified claims")

func checkIssuable(user *entities.User, claims *oidc.Claims, now time.Time) error {
	if !claims.IsValid(now) {
		return apperr.Wrap(apperr.ErrInvalidToken, "Invalid ID token", errNoClaims)
	}
	if user == nil || user.ID == "" {
		return apperr.New(apperr.ErrNotFound, "User not found")
	}
	if entities.NormalizeEmail(user.Email) != entities.NormalizeEmail(claims.Email) {
		return apperr.New(apperr.ErrInvalidToken, "Claims do not match the identity")
	}
	return nil
}
