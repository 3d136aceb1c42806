package entities

import (
	"encoding/gob"
	"time"
)

// DeviceKind is the channel a session artifact was issued to.
type DeviceKind string

const (
	DeviceWeb    DeviceKind = "web"
	DeviceMobile DeviceKind = "mobile"
)

// SessionArtifact is proof of an authenticated session bound to one user.
// Web artifacts live in the server-side session store; mobile artifacts are
// handed to the client.
type SessionArtifact struct {
	UserID       string     `json:"-"`
	Role         Role       `json:"-"`
	Device       DeviceKind `json:"-"`
	AccessToken  string     `json:"access_token"`
	IDToken      string     `json:"id_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// IsExpired reports whether the artifact is past its expiry at now.
func (a *SessionArtifact) IsExpired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime in whole seconds.
func (a *SessionArtifact) ExpiresIn(now time.Time) int64 {
	if a.IsExpired(now) {
		return 0
	}
	return int64(a.ExpiresAt.Sub(now) / time.Second)
}

func init() {
	// Session values are gob encoded by the session store.
	gob.Register(SessionArtifact{})
}
