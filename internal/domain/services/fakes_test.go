package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
)

// memUsers is an in-memory UserRepository keyed by email. Like the SQL
// upsert it only stores what the caller supplies.
type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*entities.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*entities.User)}
}

func (m *memUsers) UpsertByEmail(_ context.Context, u *entities.User) (*entities.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	email := entities.NormalizeEmail(u.Email)
	if existing, ok := m.byEmail[email]; ok {
		existing.Name = u.Name
		if u.Picture != nil {
			existing.Picture = u.Picture
		}
		existing.IsVerified = u.IsVerified
		existing.UpdatedAt = now
		if u.LastLogin != nil {
			existing.LastLogin = u.LastLogin
		}
		cp := *existing
		return &cp, false, nil
	}

	stored := *u
	stored.ID = idgen.GenerateID()
	stored.Email = email
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.byEmail[email] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *memUsers) find(pred func(*entities.User) bool) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if pred(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*entities.User, error) {
	return m.find(func(u *entities.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*entities.User, error) {
	return m.find(func(u *entities.User) bool { return u.Email == email })
}

func (m *memUsers) List(_ context.Context, opts repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.User
	for _, u := range m.byEmail {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, int64(len(out)), nil
}

func (m *memUsers) update(id string, fn func(*entities.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			fn(u)
			return nil
		}
	}
	return repositories.ErrUserNotFound
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

func (m *memAudit) ListByUser(_ context.Context, userID string, limit int) ([]*entities.AuditLog, error) {
	return nil, nil
}

func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memAudit) last() *entities.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

func (m *memAudit) actions() []entities.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.AuditAction, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// memCreatures is an in-memory CreatureRepository
type memCreatures struct {
	mu   sync.Mutex
	byID map[string]*entities.Creature
}

func newMemCreatures() *memCreatures {
	return &memCreatures{byID: make(map[string]*entities.Creature)}
}

func (m *memCreatures) Create(_ context.Context, c *entities.Creature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCreatures) GetByID(_ context.Context, id string) (*entities.Creature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, repositories.ErrCreatureNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCreatures) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*entities.Creature, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.Creature
	for _, c := range m.byID {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// memStore is an in-memory ObjectStore
type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return "https://storage.test/" + key, nil
}

type stubDescriber struct {
	sheet   *entities.CreatureSheet
	err     error
	lastURL string
}

func (s *stubDescriber) DescribeImage(_ context.Context, imageURL string) (*entities.CreatureSheet, error) {
	s.lastURL = imageURL
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.sheet
	return &cp, nil
}

type stubIllustrator struct {
	err error
}

func (s *stubIllustrator) Illustrate(context.Context, *entities.CreatureSheet) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return pngBytes, nil
}

// pngBytes is enough of a PNG for content sniffing
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

var errUpstreamDown = errors.New("connection refused")
