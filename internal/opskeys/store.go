// Package opskeys holds the API keys accepted on the /ops endpoints.
package opskeys

import "sync"

// Store keeps the accepted keys in memory for fast lookup. It is not ready until
// the first successful load.
type Store struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys != nil
}

func (s *Store) Validate(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil || key == "" {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Replace swaps the full key set. Empty keys are ignored.
func (s *Store) Replace(keys []string) {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			m[k] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = m
}
