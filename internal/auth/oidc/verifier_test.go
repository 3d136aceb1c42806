package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

const (
	testIssuer   = "https://accounts.example.test"
	webClient    = "web-client.apps.example"
	mobileClient = "mobile-client.apps.example"
)

type testProvider struct {
	key    *rsa.PrivateKey
	server *httptest.Server

	// tokenStatus and idToken control the next token endpoint response
	tokenStatus int
	idToken     string
	lastForm    url.Values
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &testProvider{key: key, tokenStatus: http.StatusOK}
	p.server = httptest.NewServer(http.HandlerFunc(p.serveToken))
	t.Cleanup(p.server.Close)
	return p
}

func (p *testProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.lastForm = r.PostForm

	w.Header().Set("Content-Type", "application/json")
	if p.tokenStatus != http.StatusOK {
		w.WriteHeader(p.tokenStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "ya29.access",
		"token_type":   "Bearer",
		"expires_in":   3599,
		"id_token":     p.idToken,
	})
}

func (p *testProvider) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (p *testProvider) verifier(cfg Config) *Verifier {
	cfg.Issuer = testIssuer
	cfg.Web = ClientConfig{ClientID: webClient, ClientSecret: "web-secret", RedirectURL: "http://localhost/callback"}
	cfg.Mobile = ClientConfig{ClientID: mobileClient, RedirectURL: "com.example.app:/oauth"}
	endpoint := oauth2.Endpoint{
		AuthURL:  p.server.URL + "/auth",
		TokenURL: p.server.URL + "/token",
	}
	keys := &gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{p.key.Public()}}
	return NewVerifierWithKeySet(cfg, endpoint, keys)
}

func idClaims(aud, email string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            aud,
		"sub":            "1098765",
		"email":          email,
		"email_verified": true,
		"name":           "Ada Lovelace",
		"picture":        "https://lh3.example/photo.jpg",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want kind %v", err, kind)
	}
}

func TestExchangeCode(t *testing.T) {
	p := newTestProvider(t)
	p.idToken = p.sign(t, idClaims(webClient, "Ada@Example.com"))
	v := p.verifier(Config{})

	claims, bundle, err := v.ExchangeCode(context.Background(), "4/code", "verifier-123")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if claims.Email != "ada@example.com" {
		t.Errorf("email = %q, want normalized", claims.Email)
	}
	if claims.Name != "Ada Lovelace" || !claims.EmailVerified {
		t.Errorf("unexpected claims %+v", claims)
	}
	if bundle.AccessToken != "ya29.access" || bundle.IDToken == "" {
		t.Errorf("unexpected bundle %+v", bundle)
	}
	if bundle.Expiry.IsZero() {
		t.Error("expiry should be set from expires_in")
	}
	if got := p.lastForm.Get("code_verifier"); got != "verifier-123" {
		t.Errorf("code_verifier = %q", got)
	}
	if got := p.lastForm.Get("redirect_uri"); got != "http://localhost/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestExchangeCodeMissingCode(t *testing.T) {
	p := newTestProvider(t)
	_, _, err := p.verifier(Config{}).ExchangeCode(context.Background(), "  ", "")
	assertKind(t, err, apperr.ErrInvalidRequest)
}

func TestExchangeCodeRejectedByProvider(t *testing.T) {
	p := newTestProvider(t)
	p.tokenStatus = http.StatusBadRequest
	_, _, err := p.verifier(Config{}).ExchangeCode(context.Background(), "expired", "")
	assertKind(t, err, apperr.ErrUpstreamAuth)
	if apperr.Status(err) != http.StatusUnauthorized {
		t.Errorf("status = %d", apperr.Status(err))
	}
}

func TestExchangeCodeProviderFailure(t *testing.T) {
	p := newTestProvider(t)
	p.tokenStatus = http.StatusServiceUnavailable
	_, _, err := p.verifier(Config{}).ExchangeCode(context.Background(), "code", "")
	assertKind(t, err, apperr.ErrUpstreamService)
}

func TestExchangeCodeProviderUnreachable(t *testing.T) {
	p := newTestProvider(t)
	v := p.verifier(Config{Timeout: 2 * time.Second})
	p.server.Close()

	_, _, err := v.ExchangeCode(context.Background(), "code", "")
	assertKind(t, err, apperr.ErrUpstreamService)
}

func TestExchangeCodeMissingIDToken(t *testing.T) {
	p := newTestProvider(t)
	_, _, err := p.verifier(Config{}).ExchangeCode(context.Background(), "code", "")
	assertKind(t, err, apperr.ErrUpstreamService)
}

func TestExchangeCodeWrongAudience(t *testing.T) {
	p := newTestProvider(t)
	p.idToken = p.sign(t, idClaims(mobileClient, "ada@example.com"))
	_, _, err := p.verifier(Config{}).ExchangeCode(context.Background(), "code", "")
	assertKind(t, err, apperr.ErrInvalidToken)
}

func TestExchangeMobileCodeRedirectOverride(t *testing.T) {
	p := newTestProvider(t)
	p.idToken = p.sign(t, idClaims(mobileClient, "ada@example.com"))
	v := p.verifier(Config{})

	if _, _, err := v.ExchangeMobileCode(context.Background(), "code", "v", "com.example.app:/other"); err != nil {
		t.Fatalf("ExchangeMobileCode: %v", err)
	}
	if got := p.lastForm.Get("redirect_uri"); got != "com.example.app:/other" {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestVerifyIDToken(t *testing.T) {
	p := newTestProvider(t)
	v := p.verifier(Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:  "mobile audience",
			token: p.sign(t, idClaims(mobileClient, "ada@example.com")),
		},
		{
			name:    "web audience is a different trust anchor",
			token:   p.sign(t, idClaims(webClient, "ada@example.com")),
			wantErr: apperr.ErrInvalidToken,
		},
		{
			name:    "empty",
			token:   "",
			wantErr: apperr.ErrInvalidRequest,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: apperr.ErrInvalidToken,
		},
		{
			name: "expired",
			token: func() string {
				c := idClaims(mobileClient, "ada@example.com")
				c["exp"] = time.Now().Add(-time.Hour).Unix()
				return p.sign(t, c)
			}(),
			wantErr: apperr.ErrInvalidToken,
		},
		{
			name:    "no email",
			token:   p.sign(t, idClaims(mobileClient, "")),
			wantErr: apperr.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.VerifyIDToken(ctx, tt.token)
			if tt.wantErr != nil {
				assertKind(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("VerifyIDToken: %v", err)
			}
			if claims.Audience != mobileClient || claims.Subject != "1098765" {
				t.Errorf("unexpected claims %+v", claims)
			}
		})
	}
}

func TestVerifyIDTokenAllowlist(t *testing.T) {
	p := newTestProvider(t)
	v := p.verifier(Config{AllowedDomains: []string{"example.com"}})

	if _, err := v.VerifyIDToken(context.Background(), p.sign(t, idClaims(mobileClient, "ada@example.com"))); err != nil {
		t.Fatalf("allowed domain rejected: %v", err)
	}
	_, err := v.VerifyIDToken(context.Background(), p.sign(t, idClaims(mobileClient, "eve@elsewhere.org")))
	assertKind(t, err, apperr.ErrForbidden)
}

func TestAuthCodeURL(t *testing.T) {
	p := newTestProvider(t)
	raw := p.verifier(Config{}).AuthCodeURL("state-xyz", oauth2.GenerateVerifier())

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "state-xyz" || q.Get("client_id") != webClient {
		t.Errorf("unexpected query %v", q)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge in %v", q)
	}
	if !strings.Contains(q.Get("scope"), "email") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		email, hd string
		domains   []string
		users     []string
		want      bool
	}{
		{"a@x.com", "", nil, nil, true},
		{"a@x.com", "", []string{"X.com"}, nil, true},
		{"a@y.com", "", []string{"x.com"}, nil, false},
		{"a@y.com", "x.com", []string{"x.com"}, nil, true},
		{"Boss@y.com", "", []string{"x.com"}, []string{"boss@y.com"}, true},
		{"a@notx.com", "", []string{"x.com"}, nil, false},
	}
	for _, tt := range tests {
		if got := isUserAllowed(tt.email, tt.hd, tt.domains, tt.users); got != tt.want {
			t.Errorf("isUserAllowed(%q, %q) = %v, want %v", tt.email, tt.hd, got, tt.want)
		}
	}
}
