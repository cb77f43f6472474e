// Package riorita binds the storage backends behind opaque handles for
// hosts that manage several engines at once, and offers shorthand
// constructors for the common single-engine case.
package riorita

import (
	"fmt"
	"sync"

	"github.com/riorita/go-riorita/store"
	"github.com/riorita/go-riorita/store/compact"
)

// Open constructs the storage backend named by backend, rooted at dir.
func Open(backend, dir string, options ...store.Option) (store.Storage, error) {
	t := store.ParseType(backend)
	if t == store.Illegal {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	options = append([]store.Option{store.Directory(dir)}, options...)
	return store.New(t, options...)
}

// OpenCompact opens a compact engine rooted at dir.
func OpenCompact(dir string, options ...compact.Option) (*compact.Store, error) {
	return compact.Open(dir, options...)
}

// Registry tracks open storages under opaque handles. Hosts that drive
// several engines refer to them by id rather than by shared mutable
// state; insert and remove are explicit.
type Registry struct {
	mu       sync.Mutex
	next     uint64
	storages map[uint64]store.Storage
}

func NewRegistry() *Registry {
	return &Registry{storages: make(map[uint64]store.Storage)}
}

// Register adds a storage and returns its handle.
func (r *Registry) Register(s store.Storage) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.storages[r.next] = s
	return r.next
}

// Get returns the storage registered under id.
func (r *Registry) Get(id uint64) (store.Storage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.storages[id]
	return s, ok
}

// Remove closes the storage registered under id and forgets it.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	s, ok := r.storages[id]
	delete(r.storages, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Len returns the number of registered storages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.storages)
}
