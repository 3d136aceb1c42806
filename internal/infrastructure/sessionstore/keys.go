package sessionstore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

// DeriveKeys expands secret into an HMAC key and an AES-256 key. Different
// purposes yield unrelated keys from the same secret.
func DeriveKeys(secret []byte, purpose string) (hashKey, blockKey []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, errors.New("session secret is empty")
	}

	kdf := hkdf.New(sha256.New, secret, []byte("critterforge"), []byte(purpose))
	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive hash key: %w", err)
	}
	if _, err := io.ReadFull(kdf, blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}

// RandomSecret returns a fresh 32 byte secret for deployments that did not
// configure one. Sessions do not survive a restart with it.
func RandomSecret() []byte {
	return securecookie.GenerateRandomKey(32)
}

// NewFlowStore returns a short-lived cookie store for OAuth state and PKCE
// verifiers. Nothing is kept server side.
func NewFlowStore(secret []byte, secure bool, maxAge int) (*sessions.CookieStore, error) {
	hashKey, blockKey, err := DeriveKeys(secret, "oauth-flow")
	if err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(maxAge)
	return store, nil
}
