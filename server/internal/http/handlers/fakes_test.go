package handlers

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/domain/services"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

// fakeGoogle knows a fixed set of ID tokens and one authorization code
type fakeGoogle struct {
	mu           sync.Mutex
	lastVerifier string
}

var knownTokens = map[string]oidc.Claims{
	"a-token":        {Subject: "sub-a", Email: "a@example.com", Name: "A", EmailVerified: true},
	"stranger-token": {Subject: "sub-s", Email: "stranger@example.com", Name: "S"},
}

func (g *fakeGoogle) AuthCodeURL(state, codeVerifier string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (g *fakeGoogle) ExchangeCode(_ context.Context, code, codeVerifier string) (*oidc.Claims, *oidc.TokenBundle, error) {
	g.mu.Lock()
	g.lastVerifier = codeVerifier
	g.mu.Unlock()

	switch code {
	case "good-code":
		claims := knownTokens["a-token"]
		claims.ExpiresAt = time.Now().Add(time.Hour)
		return &claims, &oidc.TokenBundle{AccessToken: "google-access", IDToken: "a-token", TokenType: "Bearer", Expiry: claims.ExpiresAt}, nil
	case "provider-down":
		return nil, nil, apperr.Wrap(apperr.ErrUpstreamService, "Authentication provider unavailable", errors.New("dial tcp 172.217.0.1:443: i/o timeout"))
	default:
		return nil, nil, apperr.New(apperr.ErrUpstreamAuth, "Authorization code was rejected")
	}
}

func (g *fakeGoogle) verifier() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastVerifier
}

func (g *fakeGoogle) ExchangeMobileCode(ctx context.Context, code, codeVerifier, _ string) (*oidc.Claims, *oidc.TokenBundle, error) {
	return g.ExchangeCode(ctx, code, codeVerifier)
}

func (g *fakeGoogle) VerifyIDToken(_ context.Context, raw string) (*oidc.Claims, error) {
	if raw == "" {
		return nil, apperr.New(apperr.ErrInvalidRequest, "ID token is required")
	}
	claims, ok := knownTokens[raw]
	if !ok {
		return nil, apperr.New(apperr.ErrInvalidToken, "Invalid ID token")
	}
	claims.ExpiresAt = time.Now().Add(time.Hour)
	return &claims, nil
}

// memUsers is an in-memory UserRepository
type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*entities.User
	byEmail map[string]string
	nextID  int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*entities.User{}, byEmail: map[string]string{}}
}

func (m *memUsers) UpsertByEmail(_ context.Context, user *entities.User) (*entities.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byEmail[user.Email]; ok {
		existing := m.byID[id]
		existing.Name = user.Name
		if user.Picture != nil {
			existing.Picture = user.Picture
		}
		if user.LastLogin != nil {
			existing.LastLogin = user.LastLogin
		}
		cp := *existing
		return &cp, false, nil
	}

	m.nextID++
	stored := *user
	stored.ID = strconv.Itoa(m.nextID)
	stored.CreatedAt = time.Now()
	m.byID[stored.ID] = &stored
	m.byEmail[stored.Email] = stored.ID
	cp := stored
	return &cp, true, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memUsers) List(context.Context, repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.User
	for _, u := range m.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *memUsers) UpdateRole(_ context.Context, id string, role entities.Role) error {
	return m.update(id, func(u *entities.User) { u.Role = role })
}

func (m *memUsers) SetActive(_ context.Context, id string, active bool) error {
	return m.update(id, func(u *entities.User) { u.IsActive = active })
}

func (m *memUsers) SoftDelete(_ context.Context, id string) error {
	return m.update(id, func(u *entities.User) { u.IsDeleted = true })
}

func (m *memUsers) update(id string, fn func(*entities.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// fakeCreatures records pipeline calls
type fakeCreatures struct {
	mu      sync.Mutex
	lastImg services.ImageInput
	stored  map[string]*entities.Creature
	err     error
}

func (f *fakeCreatures) Create(_ context.Context, ownerID string, img services.ImageInput) (*entities.Creature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastImg = img
	if f.err != nil {
		return nil, f.err
	}
	if f.stored == nil {
		f.stored = map[string]*entities.Creature{}
	}
	c := &entities.Creature{
		ID:            "c" + strconv.Itoa(len(f.stored)+1),
		OwnerID:       ownerID,
		Slug:          "ember-fox",
		CreatureSheet: entities.CreatureSheet{Name: "Ember Fox", Rarity: entities.RarityRare},
		ImageURL:      "https://storage.test/creatures/ember-fox.png",
	}
	f.stored[c.ID] = c
	return c, nil
}

func (f *fakeCreatures) last() services.ImageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastImg
}

func (f *fakeCreatures) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCreatures) Describe(_ context.Context, _ string, img services.ImageInput) (*entities.CreatureSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastImg = img
	if f.err != nil {
		return nil, f.err
	}
	return &entities.CreatureSheet{Name: "Ember Fox"}, nil
}

func (f *fakeCreatures) List(_ context.Context, ownerID string, _, _ int) ([]*entities.Creature, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Creature
	for _, c := range f.stored {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeCreatures) Get(_ context.Context, ownerID, id string, admin bool) (*entities.Creature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.stored[id]
	if !ok || (!admin && c.OwnerID != ownerID) {
		return nil, apperr.New(apperr.ErrNotFound, "Creature not found")
	}
	return c, nil
}

// memAudit records audit entries
type memAudit struct {
	mu      sync.Mutex
	entries []*entities.AuditLog
}

func (m *memAudit) Create(_ context.Context, log *entities.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	return nil
}

func (m *memAudit) ListByUser(context.Context, string, int) ([]*entities.AuditLog, error) {
	return nil, nil
}

func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memAudit) count(action entities.AuditAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
