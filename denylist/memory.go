package denylist

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry for tests and single-instance
// embedding. Expired entries are dropped lazily on read and opportunistically
// on write.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the registry clock. Test hook.
func (m *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	m.now = now
	return m
}

func (m *MemoryRegistry) Blacklist(_ context.Context, id string, until time.Time) error {
	if id == "" || !until.After(m.now()) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = until
	if len(m.entries)%1024 == 0 {
		m.sweepLocked()
	}
	return nil
}

func (m *MemoryRegistry) IsBlacklisted(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	if !until.After(m.now()) {
		delete(m.entries, id)
		return false, nil
	}
	return true, nil
}

func (m *MemoryRegistry) sweepLocked() {
	now := m.now()
	for id, until := range m.entries {
		if !until.After(now) {
			delete(m.entries, id)
		}
	}
}
