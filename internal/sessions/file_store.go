package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const fileSuffix = ".json"

// FileStore keeps one JSON document per site in a directory. It is safe for
// concurrent use within one process only.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

type fileRecord struct {
	ID             string     `json:"id"`
	Site           string     `json:"site"`
	Cookies        []Cookie   `json:"cookies"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	UsageCount     int        `json:"usage_count"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	FailedAttempts int        `json:"failed_attempts"`
	Health         Health     `json:"health"`
	Leased         bool       `json:"leased"`
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create session dir: %w", ErrStoreUnavailable, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Insert(ctx context.Context, s *Session) error {
	if err := ValidateSite(s.Site); err != nil {
		return err
	}
	if !s.Health.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHealth, s.Health)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(s.Site)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing.ID == s.ID {
			return fmt.Errorf("session %s already exists", s.ID)
		}
	}
	return f.save(s.Site, append(list, s.Clone()))
}

func (f *FileStore) Get(ctx context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, list, idx, err := f.find(id)
	if err != nil {
		return nil, err
	}
	return list[idx].Clone(), nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	site, list, idx, err := f.find(id)
	if err != nil {
		return err
	}
	return f.save(site, append(list[:idx], list[idx+1:]...))
}

func (f *FileStore) List(ctx context.Context, site string) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*Session
	err := f.each(site, func(_ string, list []*Session) error {
		result = append(result, list...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(result)
	return result, nil
}

func (f *FileStore) Sites(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sites()
}

func (f *FileStore) Candidate(ctx context.Context, site string, h Horizon) (*Session, error) {
	if err := ValidateSite(site); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(site)
	if err != nil {
		return nil, err
	}
	best := Best(list, site, h)
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (f *FileStore) MarkLeased(ctx context.Context, id string, h Horizon) (*Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	site, list, idx, err := f.find(id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s := list[idx]
	if !h.Eligible(s) {
		return nil, false, nil
	}
	markLeased(s, h.Now)
	if err := f.save(site, list); err != nil {
		return nil, false, err
	}
	return s.Clone(), true, nil
}

func (f *FileStore) Release(ctx context.Context, id string, outcome Outcome, at time.Time, maxFailed int) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	site, list, idx, err := f.find(id)
	if err != nil {
		return nil, err
	}
	s := list[idx]
	ApplyOutcome(s, outcome, at, maxFailed)
	if err := f.save(site, list); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (f *FileStore) ListStale(ctx context.Context, site string, h Horizon) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*Session
	err := f.each(site, func(_ string, list []*Session) error {
		for _, s := range list {
			if h.Stale(s) {
				result = append(result, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(result)
	return result, nil
}

func (f *FileStore) PurgeStale(ctx context.Context, h Horizon) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []*Session
	err := f.each("", func(site string, list []*Session) error {
		kept := make([]*Session, 0, len(list))
		for _, s := range list {
			if !s.Leased && h.Stale(s) {
				removed = append(removed, s)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == len(list) {
			return nil
		}
		return f.save(site, kept)
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(removed)
	return removed, nil
}

func (f *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStoreUnavailable, f.dir)
	}
	return nil
}

func (f *FileStore) path(site string) string {
	return filepath.Join(f.dir, site+fileSuffix)
}

func (f *FileStore) sites() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read session dir: %w", ErrStoreUnavailable, err)
	}
	var sites []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		sites = append(sites, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(sites)
	return sites, nil
}

func (f *FileStore) each(site string, fn func(site string, list []*Session) error) error {
	sites := []string{site}
	if site == "" {
		var err error
		if sites, err = f.sites(); err != nil {
			return err
		}
	}
	for _, s := range sites {
		list, err := f.load(s)
		if err != nil {
			return err
		}
		if err := fn(s, list); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) find(id string) (string, []*Session, int, error) {
	sites, err := f.sites()
	if err != nil {
		return "", nil, 0, err
	}
	for _, site := range sites {
		list, err := f.load(site)
		if err != nil {
			return "", nil, 0, err
		}
		for i, s := range list {
			if s.ID == id {
				return site, list, i, nil
			}
		}
	}
	return "", nil, 0, ErrNotFound
}

func (f *FileStore) load(site string) ([]*Session, error) {
	b, err := os.ReadFile(f.path(site))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, site, err)
	}

	var records []fileRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStoreUnavailable, site, err)
	}

	list := make([]*Session, len(records))
	for i, r := range records {
		if !r.Health.Valid() {
			return nil, fmt.Errorf("%w: decode %s: session %s: %w", ErrStoreUnavailable, site, r.ID, ErrInvalidHealth)
		}
		list[i] = &Session{
			ID:             r.ID,
			Site:           r.Site,
			Cookies:        r.Cookies,
			CreatedAt:      r.CreatedAt,
			ExpiresAt:      r.ExpiresAt,
			UsageCount:     r.UsageCount,
			LastUsedAt:     r.LastUsedAt,
			FailedAttempts: r.FailedAttempts,
			Health:         r.Health,
			Leased:         r.Leased,
		}
	}
	return list, nil
}

// save writes the site's sessions through a temp file and rename so readers
// never observe a partial document. An empty list removes the file.
func (f *FileStore) save(site string, list []*Session) error {
	path := f.path(site)
	if len(list) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove %s: %w", ErrStoreUnavailable, site, err)
		}
		return nil
	}

	records := make([]fileRecord, len(list))
	for i, s := range list {
		records[i] = fileRecord{
			ID:             s.ID,
			Site:           s.Site,
			Cookies:        s.Cookies,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			UsageCount:     s.UsageCount,
			LastUsedAt:     s.LastUsedAt,
			FailedAttempts: s.FailedAttempts,
			Health:         s.Health,
			Leased:         s.Leased,
		}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", site, err)
	}

	tmp, err := os.CreateTemp(f.dir, site+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrStoreUnavailable, site, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStoreUnavailable, site, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrStoreUnavailable, site, err)
	}
	return nil
}
