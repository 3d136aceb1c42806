package handlers

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/logger"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
	"github.com/devilmonastery/critterforge/internal/pkg/urlutil"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// FlowCookieName holds the state and PKCE verifier between login and callback
const FlowCookieName = "critterforge_oauth"

const (
	flowStateKey    = "state"
	flowVerifierKey = "code_verifier"
)

// AuthConfig holds the settings of the auth routes
type AuthConfig struct {
	ClientURL    string
	Production   bool
	TrustProxy   bool
	MaxBodyBytes int64
}

// AuthHandler serves login, logout and profile
type AuthHandler struct {
	cfg        AuthConfig
	oauth      OAuthProvider
	identities IdentityStore
	issuer     SessionIssuer
	sessions   ArtifactReader
	flow       sessions.Store
	log        *slog.Logger
}

// NewAuthHandler creates the auth routes. flow stores the short-lived
// OAuth state cookie.
func NewAuthHandler(cfg AuthConfig, oauth OAuthProvider, identities IdentityStore, issuer SessionIssuer, sessions ArtifactReader, flow sessions.Store) *AuthHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &AuthHandler{
		cfg:        cfg,
		oauth:      oauth,
		identities: identities,
		issuer:     issuer,
		sessions:   sessions,
		flow:       flow,
		log:        slog.Default().With(slog.String("handler", "auth")),
	}
}

// mobileLoginResponse is returned by both mobile login routes
type mobileLoginResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
	Token   mobileToken  `json:"token"`
}

// mobileToken is the artifact plus its remaining lifetime in seconds
type mobileToken struct {
	*entities.SessionArtifact
	ExpiresIn int64 `json:"expires_in"`
}

// profileResponse is the caller's identity
type profileResponse struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Picture   string        `json:"picture"`
	Role      entities.Role `json:"role"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Login starts the web authorization code flow: it stores a fresh state
// and PKCE verifier in the flow cookie and redirects to Google.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		respond.Error(w, r, errors.New("failed to generate oauth state"), h.cfg.Production)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(key)
	verifier := oauth2.GenerateVerifier()

	session, err := h.flow.New(r, FlowCookieName)
	if err != nil {
		// A tampered flow cookie is replaced
		logger.FromContext(r.Context()).Debug("discarding unreadable flow cookie", slog.String("error", err.Error()))
	}
	session.Values[flowStateKey] = state
	session.Values[flowVerifierKey] = verifier
	if err := session.Save(r, w); err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	http.Redirect(w, r, h.oauth.AuthCodeURL(state, verifier), http.StatusFound)
}

// Callback finishes the web flow: exchanges the code, upserts the identity,
// stores the session server side and redirects to the web client.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		logger.FromContext(r.Context()).Warn("oauth error received",
			slog.String("error", providerErr),
			slog.String("error_description", query.Get("error_description")))
		err := apperr.New(apperr.ErrUpstreamAuth, "Authentication failed")
		h.loginFailed(r, entities.DeviceWeb, err)
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		respond.Error(w, r, apperr.New(apperr.ErrInvalidRequest, "Authorization code is required"), h.cfg.Production)
		return
	}

	verifier, err := h.consumeFlow(w, r, query.Get("state"))
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	claims, tokens, err := h.oauth.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		h.loginFailed(r, entities.DeviceWeb, err)
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	user, err := h.identities.UpsertFromClaims(r.Context(), claims, clientInfo(r, entities.DeviceWeb, h.cfg.TrustProxy))
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	if _, err := h.issuer.IssueWeb(w, r, user, claims, tokens); err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	target, err := urlutil.BuildClientURL(h.cfg.ClientURL, "", nil)
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// consumeFlow checks state against the flow cookie, deletes the cookie and
// returns the PKCE verifier.
func (h *AuthHandler) consumeFlow(w http.ResponseWriter, r *http.Request, state string) (string, error) {
	invalid := apperr.New(apperr.ErrInvalidRequest, "Invalid state parameter")

	session, err := h.flow.Get(r, FlowCookieName)
	if err != nil || session.IsNew {
		return "", invalid
	}
	savedState, _ := session.Values[flowStateKey].(string)
	verifier, _ := session.Values[flowVerifierKey].(string)

	// The flow is single use whatever the outcome
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.log.Warn("failed to clear flow cookie", slog.String("error", err.Error()))
	}

	if savedState == "" || state != savedState || verifier == "" {
		logger.FromContext(r.Context()).Warn("invalid state parameter - possible CSRF attempt")
		return "", invalid
	}
	return verifier, nil
}

// MobileLogin accepts a Google ID token minted for the mobile client id
// and returns a session artifact in the body.
func (h *AuthHandler) MobileLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := decodeJSON(r, h.cfg.MaxBodyBytes, &req); err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}
	req.IDToken = strings.TrimSpace(req.IDToken)
	if req.IDToken == "" {
		respond.Error(w, r, apperr.New(apperr.ErrInvalidRequest, "ID token is required"), h.cfg.Production)
		return
	}

	claims, err := h.oauth.VerifyIDToken(r.Context(), req.IDToken)
	if err != nil {
		h.loginFailed(r, entities.DeviceMobile, err)
		respond.Error(w, r, err, h.cfg.Production)
		return
	}
	h.completeMobileLogin(w, r, claims, req.IDToken)
}

// MobileCodeLogin exchanges a code obtained by a native app with PKCE
func (h *AuthHandler) MobileCodeLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
		RedirectURI  string `json:"redirect_uri"`
	}
	if err := decodeJSON(r, h.cfg.MaxBodyBytes, &req); err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		respond.Error(w, r, apperr.New(apperr.ErrInvalidRequest, "Authorization code is required"), h.cfg.Production)
		return
	}
	if strings.TrimSpace(req.CodeVerifier) == "" {
		respond.Error(w, r, apperr.New(apperr.ErrInvalidRequest, "Code verifier is required"), h.cfg.Production)
		return
	}

	claims, tokens, err := h.oauth.ExchangeMobileCode(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		h.loginFailed(r, entities.DeviceMobile, err)
		respond.Error(w, r, err, h.cfg.Production)
		return
	}
	h.completeMobileLogin(w, r, claims, tokens.IDToken)
}

// loginFailed counts and audits a login rejected before an identity is known
func (h *AuthHandler) loginFailed(r *http.Request, device entities.DeviceKind, err error) {
	metrics.LoginAttempts.WithLabelValues(string(device), "rejected").Inc()
	h.identities.RecordLoginFailure(r.Context(), clientInfo(r, device, h.cfg.TrustProxy), err)
}

func (h *AuthHandler) completeMobileLogin(w http.ResponseWriter, r *http.Request, claims *oidc.Claims, rawIDToken string) {
	user, err := h.identities.UpsertFromClaims(r.Context(), claims, clientInfo(r, entities.DeviceMobile, h.cfg.TrustProxy))
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	artifact, err := h.issuer.IssueMobile(user, claims, rawIDToken)
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	respond.JSON(w, http.StatusOK, mobileLoginResponse{
		Message: "Login successful",
		User:    userResponse{Email: user.Email, Name: user.Name, Role: user.Role},
		Token:   mobileToken{SessionArtifact: artifact, ExpiresIn: artifact.ExpiresIn(time.Now())},
	})
}

// Profile returns the caller's identity. An identity deleted since login
// is 404.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	user, err := h.identities.Lookup(r.Context(), p.UserID, p.Email)
	if err != nil {
		respond.Error(w, r, err, h.cfg.Production)
		return
	}

	respond.JSON(w, http.StatusOK, profileResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Picture:   user.PictureURL(),
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	})
}

// Logout destroys the web session, if any. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if artifact, ok := h.sessions.Artifact(r); ok && artifact.UserID != "" {
		h.identities.RecordLogout(r.Context(), artifact.UserID, clientInfo(r, entities.DeviceWeb, h.cfg.TrustProxy))
	}

	if err := h.issuer.Revoke(w, r); err != nil {
		logger.FromContext(r.Context()).Warn("failed to revoke session", slog.String("error", err.Error()))
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Logout successful"})
}
