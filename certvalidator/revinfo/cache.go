package revinfo

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// memo is a string-keyed cache whose values are computed at most once per
// key. Concurrent callers asking for the same missing key share a single
// computation. Entries are never evicted or replaced.
type memo[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	group   singleflight.Group
}

func newMemo[V any]() *memo[V] {
	return &memo[V]{entries: make(map[string]V)}
}

// get returns the cached value for key.
func (m *memo[V]) get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// getOrCompute returns the cached value for key, computing and storing it
// when absent. The boolean reports whether the value was already cached.
// A compute error is returned to every waiting caller and nothing is stored.
func (m *memo[V]) getOrCompute(key string, compute func() (V, error)) (V, bool, error) {
	if v, ok := m.get(key); ok {
		return v, true, nil
	}

	computed := false
	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.get(key); ok {
			return v, nil
		}
		computed = true
		v, err := compute()
		if err != nil {
			return v, err
		}
		m.mu.Lock()
		m.entries[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), !computed, nil
}

// len returns the number of cached entries.
func (m *memo[V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
