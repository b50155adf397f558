package apikey

import (
	"sync"
)

// Store holds API key records indexed by hash. Reads dominate; the
// store is updated only on configuration load or reload.
type Store struct {
	mu     sync.RWMutex
	byHash map[string]*Key
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byHash: make(map[string]*Key),
	}
}

// Put adds or replaces a key record by its hash.
func (s *Store) Put(key *Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[key.Hash] = key
}

// Lookup returns the key with the given hash.
func (s *Store) Lookup(hash string) (*Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byHash[hash]
	return key, ok
}

// All returns every stored key. Used by non-deterministic hash
// algorithms that must scan.
func (s *Store) All() []*Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*Key, 0, len(s.byHash))
	for _, key := range s.byHash {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

// Replace swaps the entire key set, preserving last-used metadata of
// records that survive the swap. Used on configuration reload.
func (s *Store) Replace(keys []*Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Key, len(keys))
	for _, key := range keys {
		if existing, ok := s.byHash[key.Hash]; ok && !existing.LastUsed().IsZero() {
			key.Touch(existing.LastUsed())
		}
		next[key.Hash] = key
	}
	s.byHash = next
}
