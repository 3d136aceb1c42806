package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

// ClientConfig is one OAuth client registration at Google
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Config describes a verifier instance
type Config struct {
	Issuer         string
	Scopes         []string
	Web            ClientConfig
	Mobile         ClientConfig
	AllowedDomains []string
	AllowedUsers   []string

	// Timeout bounds every call to the provider. No call is retried.
	Timeout time.Duration

	// HTTPClient overrides the client used for provider calls
	HTTPClient *http.Client
}

// TokenBundle holds the tokens returned by a code exchange
type TokenBundle struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// Verifier turns authorization codes and ID tokens into verified Claims.
// Web and mobile are separate trust anchors: each checks the token audience
// against its own client id.
type Verifier struct {
	web       *oauth2.Config
	mobile    *oauth2.Config
	webIDs    *gooidc.IDTokenVerifier
	mobileIDs *gooidc.IDTokenVerifier

	client         *http.Client
	timeout        time.Duration
	allowedDomains []string
	allowedUsers   []string
	log            *slog.Logger
}

// NewVerifier discovers the provider endpoints and signing keys at
// cfg.Issuer and returns a ready verifier.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	cfg = withDefaults(cfg)

	// The provider keeps this context for later key refreshes, so it must
	// outlive the caller's ctx. The client timeout bounds each request.
	discoveryCtx := gooidc.ClientContext(context.WithoutCancel(ctx), cfg.HTTPClient)
	provider, err := gooidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Issuer, err)
	}

	webIDs := provider.Verifier(&gooidc.Config{ClientID: cfg.Web.ClientID})
	mobileIDs := provider.Verifier(&gooidc.Config{ClientID: cfg.Mobile.ClientID})

	return newVerifier(cfg, provider.Endpoint(), webIDs, mobileIDs), nil
}

// NewVerifierWithKeySet builds a verifier from explicit endpoints and keys,
// without discovery.
func NewVerifierWithKeySet(cfg Config, endpoint oauth2.Endpoint, keySet gooidc.KeySet) *Verifier {
	cfg = withDefaults(cfg)
	webIDs := gooidc.NewVerifier(cfg.Issuer, keySet, &gooidc.Config{ClientID: cfg.Web.ClientID})
	mobileIDs := gooidc.NewVerifier(cfg.Issuer, keySet, &gooidc.Config{ClientID: cfg.Mobile.ClientID})
	return newVerifier(cfg, endpoint, webIDs, mobileIDs)
}

func withDefaults(cfg Config) Config {
	if cfg.Issuer == "" {
		cfg.Issuer = "https://accounts.google.com"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: metrics.NewTransport("google", nil),
		}
	}
	return cfg
}

func newVerifier(cfg Config, endpoint oauth2.Endpoint, webIDs, mobileIDs *gooidc.IDTokenVerifier) *Verifier {
	return &Verifier{
		web: &oauth2.Config{
			ClientID:     cfg.Web.ClientID,
			ClientSecret: cfg.Web.ClientSecret,
			RedirectURL:  cfg.Web.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		mobile: &oauth2.Config{
			ClientID:     cfg.Mobile.ClientID,
			ClientSecret: cfg.Mobile.ClientSecret,
			RedirectURL:  cfg.Mobile.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		webIDs:         webIDs,
		mobileIDs:      mobileIDs,
		client:         cfg.HTTPClient,
		timeout:        cfg.Timeout,
		allowedDomains: cfg.AllowedDomains,
		allowedUsers:   cfg.AllowedUsers,
		log:            slog.Default().With(slog.String("component", "oidc-verifier")),
	}
}

// AuthCodeURL returns the consent screen URL for the web client. The
// challenge is derived from codeVerifier with S256.
func (v *Verifier) AuthCodeURL(state, codeVerifier string) string {
	return v.web.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(codeVerifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// ExchangeCode redeems a web authorization code with the fixed web redirect
// URI and verifies the returned ID token against the web client id.
func (v *Verifier) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Claims, *TokenBundle, error) {
	return v.exchange(ctx, "web", v.web, v.webIDs, code, codeVerifier)
}

// ExchangeMobileCode redeems a code obtained by a native app. redirectURI
// overrides the configured mobile redirect when the app used another one.
func (v *Verifier) ExchangeMobileCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Claims, *TokenBundle, error) {
	cfg := v.mobile
	if redirectURI != "" && redirectURI != cfg.RedirectURL {
		clone := *cfg
		clone.RedirectURL = redirectURI
		cfg = &clone
	}
	return v.exchange(ctx, "mobile", cfg, v.mobileIDs, code, codeVerifier)
}

// VerifyIDToken verifies an ID token handed over by a mobile client against
// the mobile client id.
func (v *Verifier) VerifyIDToken(ctx context.Context, rawIDToken string) (*Claims, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return nil, apperr.New(apperr.ErrInvalidRequest, "ID token is required")
	}

	ctx, cancel := v.upstreamContext(ctx)
	defer cancel()

	return v.verify(ctx, v.mobileIDs, rawIDToken)
}

func (v *Verifier) exchange(
	ctx context.Context,
	channel string,
	cfg *oauth2.Config,
	ids *gooidc.IDTokenVerifier,
	code, codeVerifier string,
) (*Claims, *TokenBundle, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil, apperr.New(apperr.ErrInvalidRequest, "Authorization code is required")
	}

	ctx, cancel := v.upstreamContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	start := time.Now()
	token, err := cfg.Exchange(ctx, code, opts...)
	metrics.RecordUpstreamCall("google_oauth", channel+"_exchange", time.Since(start), err)
	if err != nil {
		return nil, nil, v.classifyExchangeError(err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, nil, apperr.New(apperr.ErrUpstreamService, "token response did not include an ID token")
	}

	claims, err := v.verify(ctx, ids, rawIDToken)
	if err != nil {
		return nil, nil, err
	}

	bundle := &TokenBundle{
		AccessToken:  token.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
	return claims, bundle, nil
}

func (v *Verifier) verify(ctx context.Context, ids *gooidc.IDTokenVerifier, rawIDToken string) (*Claims, error) {
	idToken, err := ids.Verify(ctx, rawIDToken)
	if err != nil {
		v.log.Debug("id token rejected", slog.String("error", err.Error()))
		return nil, apperr.Wrap(apperr.ErrInvalidToken, "Invalid ID token", err)
	}

	var gc googleClaims
	if err := idToken.Claims(&gc); err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, "Invalid ID token claims", err)
	}

	claims := &Claims{
		Subject:       idToken.Subject,
		Email:         strings.ToLower(strings.TrimSpace(gc.Email)),
		EmailVerified: bool(gc.EmailVerified),
		Name:          gc.displayName(),
		Picture:       gc.Picture,
		HostedDomain:  gc.HostedDomain,
		Issuer:        idToken.Issuer,
		IssuedAt:      idToken.IssuedAt,
		ExpiresAt:     idToken.Expiry,
	}
	if len(idToken.Audience) > 0 {
		claims.Audience = idToken.Audience[0]
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, apperr.New(apperr.ErrInvalidToken, "ID token does not carry an email")
	}

	if !isUserAllowed(claims.Email, claims.HostedDomain, v.allowedDomains, v.allowedUsers) {
		v.log.Info("login rejected by allowlist", slog.String("email", claims.Email))
		return nil, apperr.New(apperr.ErrForbidden, "Account is not allowed to sign in")
	}

	return claims, nil
}

// classifyExchangeError separates a provider rejecting the code (caller
// fault) from the provider being unreachable or failing (upstream fault).
func (v *Verifier) classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		v.log.Info("code exchange rejected",
			slog.Int("status", status),
			slog.String("error_code", re.ErrorCode))
		if status >= http.StatusInternalServerError {
			return apperr.Wrap(apperr.ErrUpstreamService, "Authentication provider error", err)
		}
		return apperr.Wrap(apperr.ErrUpstreamAuth, "Authorization code was rejected", err)
	}

	v.log.Warn("code exchange failed", slog.String("error", err.Error()))
	return apperr.Wrap(apperr.ErrUpstreamService, "Authentication provider unavailable", err)
}

func (v *Verifier) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	return gooidc.ClientContext(ctx, v.client), cancel
}
