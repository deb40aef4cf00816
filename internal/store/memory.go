package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/serroba/shortlink/internal/shortlink"
)

// MemoryStore is an in-memory implementation of shortlink.Repository.
// It enforces the same unique-code constraint as the Postgres store so
// conflict handling can be exercised without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	links map[string]*shortlink.ShortLink
}

// NewMemoryStore creates a new in-memory link store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links: make(map[string]*shortlink.ShortLink),
	}
}

func (m *MemoryStore) Insert(_ context.Context, link *shortlink.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.Code]; exists {
		return shortlink.ErrCodeConflict
	}

	m.links[link.Code] = link.Clone()

	return nil
}

func (m *MemoryStore) FindByCode(_ context.Context, code string) (*shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.links[code]
	if !ok {
		return nil, shortlink.ErrNotFound
	}

	return link.Clone(), nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, code string, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("usage delta must be positive, got %d", delta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[code]
	if !ok {
		return shortlink.ErrNotFound
	}

	link.UsageCount += delta

	return nil
}

func (m *MemoryStore) SetActive(_ context.Context, code string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[code]
	if !ok {
		return shortlink.ErrNotFound
	}

	// Deactivation is one-way.
	link.Active = link.Active && active

	return nil
}

// Compile-time check.
var _ shortlink.Repository = (*MemoryStore)(nil)
