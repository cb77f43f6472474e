// Package memory implements the storage contract over an in-process
// map. Nothing survives a restart; it exists for tests and for
// deployments that only want the wire protocol in front of a cache.
package memory

import (
	"sync"

	"github.com/riorita/go-riorita/store/types"
)

type entry struct {
	value     []byte
	expiresAt types.Timestamp
}

// Store is the in-memory backend.
type Store struct {
	mu       sync.RWMutex
	sections map[string]map[string]entry
	closed   bool
}

func New() *Store {
	return &Store{sections: make(map[string]map[string]entry)}
}

func (s *Store) Has(section, name []byte, now types.Timestamp) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	e, ok := s.sections[string(section)][string(name)]
	return ok && e.expiresAt > now
}

func (s *Store) Get(section, name []byte, now types.Timestamp) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, nil
	}
	e, ok := s.sections[string(section)][string(name)]
	if !ok || e.expiresAt <= now {
		return nil, false, nil
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

func (s *Store) Put(section, name, value []byte, now, lifetime types.Timestamp, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	byName := s.sections[string(section)]
	if byName == nil {
		byName = make(map[string]entry)
		s.sections[string(section)] = byName
	}
	if !overwrite {
		if e, ok := byName[string(name)]; ok && e.expiresAt > now {
			return false, nil
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	byName[string(name)] = entry{value: stored, expiresAt: now + lifetime}
	return true, nil
}

func (s *Store) Erase(section, name []byte, now types.Timestamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	byName := s.sections[string(section)]
	e, ok := byName[string(name)]
	if !ok {
		return false, nil
	}
	delete(byName, string(name))
	return e.expiresAt > now, nil
}

func (s *Store) EraseSection(section []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	delete(s.sections, string(section))
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sections = nil
	return nil
}
