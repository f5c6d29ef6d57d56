package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store with a map guarded by a sync.RWMutex.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Session)}
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

func (m *MemStore) Create(_ context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session: create: empty id")
	}
	stamp(&s)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session: create %s: %w", s.ID, ErrExists)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session: get %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemStore) Update(_ context.Context, id string, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session: update %s: %w", id, ErrNotFound)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Session{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	m.sessions[id] = next.Clone()
	return next, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session: delete %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
