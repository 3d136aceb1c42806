package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
)

var _ repositories.SessionRepository = (*MemoryRepository)(nil)

type memoryEntry struct {
	data      string
	expiresAt time.Time
}

// MemoryRepository keeps sessions in process memory. Suitable for local
// development and single-instance deployments only.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory session repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryRepository) Get(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || !m.now().Before(e.expiresAt) {
		return "", repositories.ErrSessionNotFound
	}
	return e.data, nil
}

func (m *MemoryRepository) Save(_ context.Context, id, data string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = memoryEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	return nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, e := range m.entries {
		if e.expiresAt.Before(before) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) CountActive(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for _, e := range m.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n, nil
}
