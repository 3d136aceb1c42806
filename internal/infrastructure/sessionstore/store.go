// Package sessionstore keeps web sessions server side. The browser only
// holds a signed, encrypted session id; the values live in a
// repositories.SessionRepository (postgres, redis or memory).
package sessionstore

import (
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
)

var _ sessions.Store = (*Store)(nil)

// Store implements sessions.Store on top of a SessionRepository
type Store struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	repo repositories.SessionRepository
	log  *slog.Logger
}

// NewStore builds a store whose codecs are derived from secret. opts.MaxAge
// is the server-side session TTL in seconds.
func NewStore(repo repositories.SessionRepository, secret []byte, opts sessions.Options) (*Store, error) {
	hashKey, blockKey, err := DeriveKeys(secret, "web-session")
	if err != nil {
		return nil, err
	}

	s := &Store{
		Codecs:  securecookie.CodecsFromPairs(hashKey, blockKey),
		Options: &opts,
		repo:    repo,
		log:     slog.Default().With(slog.String("component", "sessionstore")),
	}
	s.MaxAge(opts.MaxAge)
	return s, nil
}

// MaxAge sets the session TTL on the store options and every codec
func (s *Store) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
			// Payloads are stored server side, so the 4096 byte cookie
			// limit does not apply to them.
			sc.MaxLength(0)
		}
	}
}

// Get returns a session for the given name after adding it to the registry
func (s *Store) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the session named by the request cookie, or a fresh one when
// the cookie is absent or points at a session that no longer exists.
// A cookie that fails authentication yields a fresh session and an error.
func (s *Store) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.Codecs...); err != nil {
		return session, fmt.Errorf("decode session cookie: %w", err)
	}

	data, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return session, nil
	}
	if err != nil {
		return session, fmt.Errorf("load session: %w", err)
	}

	if err := securecookie.DecodeMulti(name, data, &session.Values, s.Codecs...); err != nil {
		return session, fmt.Errorf("decode session values: %w", err)
	}

	session.ID = id
	session.IsNew = false
	return session, nil
}

// Save persists the session and writes the id cookie. A negative MaxAge
// deletes the server-side record and expires the cookie.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.repo.Delete(r.Context(), session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newSessionID()
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.Values, s.Codecs...)
	if err != nil {
		return fmt.Errorf("encode session values: %w", err)
	}

	ttl := session.Options.MaxAge
	if ttl == 0 {
		ttl = s.Options.MaxAge
	}
	expiresAt := time.Now().Add(time.Duration(ttl) * time.Second)
	if err := s.repo.Save(r.Context(), session.ID, encoded, expiresAt); err != nil {
		return err
	}

	cookieValue, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("encode session id: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), cookieValue, session.Options))
	return nil
}

// Regenerate drops the server-side record of session and clears its id so
// the next Save issues a new one. Values are kept.
func (s *Store) Regenerate(r *http.Request, session *sessions.Session) error {
	if session.ID != "" {
		if err := s.repo.Delete(r.Context(), session.ID); err != nil {
			return err
		}
	}
	session.ID = ""
	session.IsNew = true
	return nil
}

// Destroy deletes the session and expires its cookie
func (s *Store) Destroy(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	session.Options.MaxAge = -1
	for k := range session.Values {
		delete(session.Values, k)
	}
	return s.Save(r, w, session)
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
