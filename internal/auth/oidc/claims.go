package oidc

import (
	"strings"
	"time"
)

// Claims are the verified identity attributes taken from a Google ID token.
// They are never persisted.
type Claims struct {
	// Subject - unique identifier for the user at the provider
	Subject string

	// Email address of the user, normalized to lower case
	Email string

	// EmailVerified indicates if the email has been verified by the provider
	EmailVerified bool

	Name    string
	Picture string

	// HostedDomain is the Workspace domain, empty for consumer accounts
	HostedDomain string

	Issuer   string
	Audience string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the token had expired at now. A zero expiry never does.
func (c *Claims) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// IsValid performs basic validation of required claims
func (c *Claims) IsValid(now time.Time) bool {
	return c != nil && c.Subject != "" && c.Email != "" && !c.IsExpired(now)
}

// googleClaims is the JSON shape of the Google ID token payload
type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Picture       string   `json:"picture"`
	HostedDomain  string   `json:"hd"`
}

// displayName falls back to given/family name, then the email local part
func (g *googleClaims) displayName() string {
	if name := strings.TrimSpace(g.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(g.GivenName + " " + g.FamilyName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(g.Email, "@")
	return local
}

// flexBool accepts both true and "true"; older Google tokens used strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	default:
		*b = false
	}
	return nil
}
