// Package lockset provides per-key mutual exclusion.
package lockset

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set hands out one mutex per key and drops it once no goroutine holds or
// waits on it.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (s *Set) Lock(key string) func() {
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len reports how many keys are currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
