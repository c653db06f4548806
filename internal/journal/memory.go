package journal

import (
	"context"
	"slices"
	"sync"
)

// MemoryStorage хранит последние capacity записей в памяти.
type MemoryStorage struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = defaultBuffer
	}
	return &MemoryStorage{capacity: capacity}
}

func (m *MemoryStorage) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entries...)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = slices.Delete(m.entries, 0, over)
	}
	return nil
}

func (m *MemoryStorage) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.entries)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
