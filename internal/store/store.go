package store

import "sync"

const initialCapacity = 10

// Store is the table shared by every connection. Copies of the *Store
// pointer alias the same table. A single mutex covers the whole map and is
// only held for one map operation at a time.
type Store struct {
	mu sync.Mutex
	m  map[string]string
}

func New() *Store {
	return &Store{
		m: make(map[string]string, initialCapacity),
	}
}

// FromMap builds a store that takes ownership of m.
func FromMap(m map[string]string) *Store {
	if m == nil {
		return New()
	}
	return &Store{m: m}
}

// Set installs value under key and returns the value it replaced, if any.
func (s *Store) Set(key, value string) (string, bool) {
	s.mu.Lock()
	prev, ok := s.m[key]
	s.m[key] = value
	s.mu.Unlock()
	return prev, ok
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	val, ok := s.m[key]
	s.mu.Unlock()
	return val, ok
}

// Del removes key and returns the removed value, if any. Deleting an absent
// key is a no-op.
func (s *Store) Del(key string) (string, bool) {
	s.mu.Lock()
	val, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	s.mu.Unlock()
	return val, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	n := len(s.m)
	s.mu.Unlock()
	return n
}

// Snapshot returns a copy of the table. Callers serialize the copy without
// holding the lock.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	out := make(map[string]string, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	s.mu.Unlock()
	return out
}
