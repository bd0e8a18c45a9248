package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. A single mutex covers every
// read-modify-write, which gives MarkLeased its conditional semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, s *Session) error {
	if !s.Health.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHealth, s.Health)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, site string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if site == "" || s.Site == site {
			result = append(result, s.Clone())
		}
	}
	sortByCreation(result)
	return result, nil
}

func (m *MemoryStore) Sites(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range m.sessions {
		seen[s.Site] = struct{}{}
	}
	sites := make([]string, 0, len(seen))
	for site := range seen {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites, nil
}

func (m *MemoryStore) Candidate(ctx context.Context, site string, h Horizon) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	best := Best(all, site, h)
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (m *MemoryStore) MarkLeased(ctx context.Context, id string, h Horizon) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !h.Eligible(s) {
		return nil, false, nil
	}
	markLeased(s, h.Now)
	return s.Clone(), true, nil
}

func (m *MemoryStore) Release(ctx context.Context, id string, outcome Outcome, at time.Time, maxFailed int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	ApplyOutcome(s, outcome, at, maxFailed)
	return s.Clone(), nil
}

func (m *MemoryStore) ListStale(ctx context.Context, site string, h Horizon) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if (site == "" || s.Site == site) && h.Stale(s) {
			result = append(result, s.Clone())
		}
	}
	sortByCreation(result)
	return result, nil
}

func (m *MemoryStore) PurgeStale(ctx context.Context, h Horizon) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*Session
	for id, s := range m.sessions {
		if s.Leased || !h.Stale(s) {
			continue
		}
		removed = append(removed, s)
		delete(m.sessions, id)
	}
	sortByCreation(removed)
	return removed, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func sortByCreation(list []*Session) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
