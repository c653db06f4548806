package persistence

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryMedium — носитель в памяти процесса. Переживает пересоздание сессии,
// но не перезапуск; используется в тестах и при persistence.backend=memory.
type MemoryMedium struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryMedium(now func() time.Time) *MemoryMedium {
	if now == nil {
		now = time.Now
	}
	return &MemoryMedium{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (m *MemoryMedium) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !e.expiresAt.After(m.now()) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *MemoryMedium) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: slices.Clone(value), expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryMedium) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryMedium) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for key, e := range m.entries {
		if e.expiresAt.After(now) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Put кладет сырые байты мимо кодека (тесты битых записей).
func (m *MemoryMedium) Put(key string, value []byte, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
}
