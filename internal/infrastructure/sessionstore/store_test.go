package sessionstore

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/sessions"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
)

const cookieName = "test_session"

func newTestStore(t *testing.T) (*Store, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	store, err := NewStore(repo, []byte("0123456789abcdef0123456789abcdef"), sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, repo
}

// saveSession stores values in a new session and returns the Set-Cookie header.
func saveSession(t *testing.T, store *Store, values map[any]any) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	session, err := store.Get(req, cookieName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for k, v := range values {
		session.Values[k] = v
	}
	if err := session.Save(req, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func TestStoreRoundTrip(t *testing.T) {
	store, repo := newTestStore(t)
	cookie := saveSession(t, store, map[any]any{"user": "42"})

	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if bytes.Contains([]byte(cookie.Value), []byte("42")) {
		t.Error("cookie must not carry session values")
	}
	if n, _ := repo.CountActive(context.Background()); n != 1 {
		t.Errorf("active sessions = %d, want 1", n)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	session, err := store.Get(req, cookieName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.IsNew {
		t.Error("session should be loaded, not new")
	}
	if session.Values["user"] != "42" {
		t.Errorf("user = %v", session.Values["user"])
	}
}

func TestStoreTamperedCookie(t *testing.T) {
	store, _ := newTestStore(t)
	cookie := saveSession(t, store, map[any]any{"user": "42"})
	cookie.Value = cookie.Value[:len(cookie.Value)-4] + "AAAA"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	session, err := store.Get(req, cookieName)
	if err == nil {
		t.Fatal("expected an error for a tampered cookie")
	}
	if !session.IsNew || len(session.Values) != 0 {
		t.Error("tampered cookie must yield an empty new session")
	}
}

func TestStoreDestroy(t *testing.T) {
	store, repo := newTestStore(t)
	cookie := saveSession(t, store, map[any]any{"user": "42"})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	session, _ := store.Get(req, cookieName)
	if err := store.Destroy(req, rec, session); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected an expiring cookie, got %+v", cleared)
	}
	if n, _ := repo.CountActive(context.Background()); n != 0 {
		t.Errorf("active sessions = %d after destroy", n)
	}

	// The old cookie now resolves to an empty session.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	again, err := store.Get(req, cookieName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !again.IsNew || again.Values["user"] != nil {
		t.Error("destroyed session must not load")
	}
}

func TestStoreRegenerate(t *testing.T) {
	store, repo := newTestStore(t)
	cookie := saveSession(t, store, map[any]any{"user": "42"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	session, _ := store.Get(req, cookieName)
	oldID := session.ID

	if err := store.Regenerate(req, session); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if err := session.Save(req, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if session.ID == "" || session.ID == oldID {
		t.Errorf("expected a new session id, got %q (old %q)", session.ID, oldID)
	}
	if _, err := repo.Get(context.Background(), oldID); err != repositories.ErrSessionNotFound {
		t.Errorf("old session should be gone, got %v", err)
	}
}

func TestMemoryRepositoryExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	_ = repo.Save(ctx, "a", "data-a", now.Add(time.Minute))
	_ = repo.Save(ctx, "b", "data-b", now.Add(-time.Minute))

	if _, err := repo.Get(ctx, "b"); err != repositories.ErrSessionNotFound {
		t.Errorf("expired session returned err=%v", err)
	}
	if got, err := repo.Get(ctx, "a"); err != nil || got != "data-a" {
		t.Errorf("Get(a) = %q, %v", got, err)
	}

	deleted, _ := repo.DeleteExpired(ctx, now)
	if deleted != 1 {
		t.Errorf("DeleteExpired = %d, want 1", deleted)
	}
	if n, _ := repo.CountActive(ctx); n != 1 {
		t.Errorf("CountActive = %d, want 1", n)
	}
}

func TestDeriveKeys(t *testing.T) {
	h1, b1, err := DeriveKeys([]byte("secret"), "web-session")
	if err != nil {
		t.Fatal(err)
	}
	h2, b2, _ := DeriveKeys([]byte("secret"), "oauth-flow")

	if len(h1) != 64 || len(b1) != 32 {
		t.Errorf("key sizes = %d, %d", len(h1), len(b1))
	}
	if bytes.Equal(h1, h2) || bytes.Equal(b1, b2) {
		t.Error("different purposes must derive different keys")
	}
	if _, _, err := DeriveKeys(nil, "x"); err == nil {
		t.Error("empty secret must fail")
	}
}
