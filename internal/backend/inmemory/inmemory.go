// Package inmemory is a process-local Store used by tests and by
// ephemeral deployments that do not need data to survive a restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]model.MemoryRecord
	cache   map[string]model.CacheEntry
	closed  bool
}

var _ backend.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		records: make(map[string]model.MemoryRecord),
		cache:   make(map[string]model.CacheEntry),
	}
}

// Opener adapts New to backend.Opener.
func Opener() backend.Opener {
	return func(context.Context) (backend.Store, error) {
		return New(), nil
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("inmemory store closed: %w", model.ErrBackendUnavailable)
	}
	return nil
}

func clone(r model.MemoryRecord) *model.MemoryRecord {
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		r.ExpiresAt = &t
	}
	return &r
}

func (s *Store) Put(ctx context.Context, rec *model.MemoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	stored := *clone(*rec)
	stored.ID = backend.NewID(time.Now())
	s.records[stored.ID] = stored
	return stored.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (*model.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if patch.Content != nil {
		rec.Content = *patch.Content
	}
	if patch.Category != nil {
		rec.Category = *patch.Category
	}
	if patch.Importance != nil {
		rec.Importance = *patch.Importance
	}
	if patch.UpdatedAt != nil {
		rec.UpdatedAt = *patch.UpdatedAt
	}
	if patch.AccessedAt != nil {
		rec.AccessCount++
		rec.LastAccessedAt = *patch.AccessedAt
	}
	s.records[id] = rec
	return clone(rec), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]model.MemoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(&rec) && rec.ID > filter.AfterID {
			out = append(out, *clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, filter model.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range s.records {
		if filter.Matches(&rec) {
			n++
		}
	}
	return n, nil
}

func (s *Store) PutCache(ctx context.Context, entry model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	entry.Value = append([]byte{}, entry.Value...)
	s.cache[entry.Key] = entry
	return nil
}

func (s *Store) GetCache(ctx context.Context, key string) (*model.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	entry, ok := s.cache[key]
	if !ok {
		return nil, fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	entry.Value = append([]byte{}, entry.Value...)
	return &entry, nil
}

func (s *Store) DeleteCache(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.cache[key]; !ok {
		return fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	delete(s.cache, key)
	return nil
}

func (s *Store) ListCache(ctx context.Context) ([]model.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]model.CacheEntry, 0, len(s.cache))
	for _, e := range s.cache {
		e.Value = append([]byte{}, e.Value...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Name() string { return "memory" }
