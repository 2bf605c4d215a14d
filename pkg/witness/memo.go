package witness

import (
	"sync"
)

// memoKey keys cached results on chain head identity so a cached entry can
// never outlive the snapshot that produced it.
type memoKey struct {
	headID    string
	namespace string
}

// MemoRegistry wraps a Registry with per-query memoization. The registry
// stays stateless with respect to correctness: the cache key includes the
// tail cell id, so any append changes the key and stale entries simply stop
// being hit.
type MemoRegistry struct {
	inner *Registry
	view  ChainView

	mu    sync.RWMutex
	cache map[memoKey]*Set
}

// NewMemoRegistry wraps view with a memoizing registry.
func NewMemoRegistry(view ChainView) *MemoRegistry {
	return &MemoRegistry{
		inner: NewRegistry(view),
		view:  view,
		cache: make(map[memoKey]*Set),
	}
}

// Get returns the current witness set for ns, serving repeats of the same
// (head, namespace) pair from cache.
func (m *MemoRegistry) Get(ns string) (*Set, error) {
	tail := m.view.Tail()
	if tail == nil {
		return m.inner.Get(ns)
	}
	key := memoKey{headID: tail.CellID, namespace: ns}

	m.mu.RLock()
	s, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := m.inner.Get(ns)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	// Drop entries from older heads; the chain is append-only so at most one
	// head is live.
	for k := range m.cache {
		if k.headID != key.headID {
			delete(m.cache, k)
		}
	}
	m.cache[key] = s
	m.mu.Unlock()
	return s, nil
}

// All proxies to the inner registry; full scans are not memoized.
func (m *MemoRegistry) All() (map[string]*Set, error) { return m.inner.All() }
