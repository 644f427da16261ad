// Package lockmap provides per-key mutual exclusion.
//
// Operations on the same key are serialized; operations on different keys
// never contend beyond a short map lookup. Entries are reference counted and
// removed once no goroutine holds or waits for them, so the map does not grow
// with the number of documents ever touched.
package lockmap

import "sync"

// Map is a set of mutexes keyed by string.
// The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Map.
func New() *Map {
	return &Map{}
}

// Lock acquires the mutex for key and returns its release function.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
