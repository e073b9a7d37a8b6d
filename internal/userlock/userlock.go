// Package userlock provides a keyed in-process mutex used to serialize
// credential issuance, rotation, and bulk revocation per user. The durable
// cross-instance guarantee comes from the store's conditional Consume; this
// lock removes the in-instance race between issuance and revoke-all sweeps.
package userlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a collection of per-key mutexes. Entries exist only while held or
// contended, so memory stays proportional to in-flight operations.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its release function.
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
