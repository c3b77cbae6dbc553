package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Tests keep one instance alive across a
// simulated restart to stand in for the durable store.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
	quota int64
	fail  error
}

var _ Store = (*Memory)(nil)
var _ Sizer = (*Memory)(nil)

func NewMemory(opts Options) *Memory {
	return &Memory{items: make(map[string]string), quota: opts.QuotaBytes}
}

// FailWrites makes every subsequent SetItem and RemoveItem return err. Pass
// nil to heal the store.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Memory) GetItem(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.quota > 0 {
		var used int64
		for k, v := range m.items {
			if k != key {
				used += entrySize(k, v)
			}
		}
		if used+entrySize(key, value) > m.quota {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
	}
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Sizes(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int64, len(m.items))
	for k, v := range m.items {
		sizes[k] = entrySize(k, v)
	}
	return sizes, nil
}

func (m *Memory) Close() error { return nil }
