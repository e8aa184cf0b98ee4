package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a Store backed by a map. Versions advance monotonically
// per process, so a deleted-and-recreated key never reuses a version.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	version uint64
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]Entry),
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	cpy := entry
	cpy.Value = append([]byte(nil), entry.Value...)
	return &cpy, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte, cas uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[key]
	if cas == 0 {
		if exists {
			return 0, ErrCASMismatch
		}
	} else if !exists || current.Version != cas {
		return 0, ErrCASMismatch
	}

	s.version++
	s.entries[key] = Entry{
		Key:     key,
		Value:   append([]byte(nil), value...),
		Version: s.version,
	}
	return s.version, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string, cas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[key]
	if !exists {
		return ErrNotFound
	}
	if cas != VersionAny && current.Version != cas {
		return ErrCASMismatch
	}

	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
