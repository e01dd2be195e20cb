package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	windowEnd time.Time
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu   sync.Mutex
	data map[string]*memoryEntry
	now  func() time.Time
}

// NewMemoryCounter constructs an empty MemoryCounter. A nil clock defaults to time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{data: make(map[string]*memoryEntry), now: now}
}

// IncrementWithTTL implements Counter.
func (m *MemoryCounter) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok || !now.Before(entry.windowEnd) {
		entry = &memoryEntry{windowEnd: now.Add(window)}
		m.data[key] = entry
		m.evict(now)
	}
	entry.count++
	return entry.count, entry.windowEnd.Sub(now), nil
}

// evict drops expired windows; mu must be held.
func (m *MemoryCounter) evict(now time.Time) {
	for key, entry := range m.data {
		if !now.Before(entry.windowEnd) {
			delete(m.data, key)
		}
	}
}
