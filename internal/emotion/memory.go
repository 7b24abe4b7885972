package emotion

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the latest snapshot per user behind a freshness window.
// Stale entries behave as absent but stay stored until the next Update or Reset.
type Memory interface {
	Update(ctx context.Context, userID string, s Snapshot) error
	GetRecent(ctx context.Context, userID string) (*Snapshot, bool)
	Reset(ctx context.Context, userID string) error
}

type entry struct {
	snap     Snapshot
	storedAt time.Time
}

// MemoryStore is the in-process Memory.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// WithClock replaces the wall clock, for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Update(_ context.Context, userID string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = entry{snap: s, storedAt: m.now()}
	return nil
}

func (m *MemoryStore) GetRecent(_ context.Context, userID string) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[userID]
	if !ok || !fresh(e.storedAt, m.now(), m.ttl) {
		return nil, false
	}
	s := e.snap
	return &s, true
}

func (m *MemoryStore) Reset(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

func fresh(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) <= ttl
}
