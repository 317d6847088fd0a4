package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Backend guarded by an RWMutex. Writes are
// last-write-wins per fingerprint. A soft MaxEntries cap evicts expired
// entries first and arbitrary ones after that.
type Memory struct {
	MaxEntries int

	mu    sync.RWMutex
	items map[string]Entry
}

func NewMemory(maxEntries int) *Memory {
	return &Memory{
		MaxEntries: maxEntries,
		items:      make(map[string]Entry),
	}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[fingerprint]
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[entry.Fingerprint] = entry

	if m.MaxEntries > 0 && len(m.items) > m.MaxEntries {
		now := time.Now()
		for k, v := range m.items {
			if len(m.items) <= m.MaxEntries {
				break
			}
			if k == entry.Fingerprint {
				continue
			}
			if !v.FreshAt(now) {
				delete(m.items, k)
			}
		}
		for k := range m.items {
			if len(m.items) <= m.MaxEntries {
				break
			}
			if k == entry.Fingerprint {
				continue
			}
			delete(m.items, k)
		}
	}
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
