package store

import (
	"context"
	"sync"
	"time"

	"github.com/joescharf/ait/internal/models"
)

// MemoryStore is a process-local Store used by tests and --ephemeral runs.
// Nothing survives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	session  models.Session
	issues   map[string][]*models.Issue
	cachedAt map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		session:  models.EmptySession(),
		issues:   make(map[string][]*models.Issue),
		cachedAt: make(map[string]time.Time),
	}
}

func (m *MemoryStore) SetSession(_ context.Context, s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = sessionFromValues(sessionValues(s))
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, nil
}

func (m *MemoryStore) ClearSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = models.EmptySession()
	return nil
}

func (m *MemoryStore) CacheIssues(_ context.Context, owner string, issues []*models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*models.Issue, len(issues))
	for i, issue := range issues {
		c := *issue
		cp[i] = &c
	}
	m.issues[owner] = cp
	m.cachedAt[owner] = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CachedIssues(_ context.Context, owner string) ([]*models.Issue, time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issues, ok := m.issues[owner]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	cp := make([]*models.Issue, len(issues))
	for i, issue := range issues {
		c := *issue
		cp[i] = &c
	}
	return cp, m.cachedAt[owner], true, nil
}

func (m *MemoryStore) InvalidateIssues(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner == "" {
		m.issues = make(map[string][]*models.Issue)
		m.cachedAt = make(map[string]time.Time)
		return nil
	}
	delete(m.issues, owner)
	delete(m.cachedAt, owner)
	return nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
