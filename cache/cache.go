// Package cache provides the bounded LRU of result bytes placed in
// front of a storage backend to satisfy repeated reads.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/simplelru"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("riorita/cache")

const (
	// DefaultMaxEntrySize is the per-entry cap: key plus value bytes.
	DefaultMaxEntrySize = int64(16) * 1024 * 1024
	// DefaultMaxSize is the total byte budget.
	DefaultMaxSize = int64(16) * 1024 * 1024 * 1024
	// DefaultMaxEntries bounds the entry count independently of bytes.
	DefaultMaxEntries = 1 << 20
)

// ResultCache is a bounded LRU over key → value bytes. Entries larger
// than the per-entry cap are never inserted, and lookups of oversize
// keys miss without disturbing recency. All operations hold one lock.
type ResultCache struct {
	mu       sync.Mutex
	lru      *lru.LRU
	size     int64
	maxEntry int64
	maxSize  int64
}

type Option func(*ResultCache)

// MaxEntrySize caps the byte size (key + value) of a single entry.
func MaxEntrySize(size int64) Option {
	return func(c *ResultCache) {
		c.maxEntry = size
	}
}

// MaxSize caps the total bytes held across all entries.
func MaxSize(size int64) Option {
	return func(c *ResultCache) {
		c.maxSize = size
	}
}

func New(options ...Option) *ResultCache {
	c := &ResultCache{
		maxEntry: DefaultMaxEntrySize,
		maxSize:  DefaultMaxSize,
	}
	for _, opt := range options {
		opt(c)
	}
	l, err := lru.NewLRU(DefaultMaxEntries, c.onEvict)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	c.lru = l
	return c
}

// onEvict runs under the cache lock via simplelru callbacks.
func (c *ResultCache) onEvict(key, value interface{}) {
	c.size -= int64(len(key.(string))) + int64(len(value.([]byte)))
}

// Has reports whether the key is cached, renewing its recency.
func (c *ResultCache) Has(key string) bool {
	if int64(len(key)) > c.maxEntry {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lru.Get(key)
	return ok
}

// Get returns the cached value for key, renewing its recency.
func (c *ResultCache) Get(key string) ([]byte, bool) {
	if int64(len(key)) > c.maxEntry {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return value.([]byte), true
}

// Put inserts or replaces the value for key. Entries over the
// per-entry cap are silently skipped; inserting evicts
// least-recently-used entries until the byte budget is met.
func (c *ResultCache) Put(key string, value []byte) {
	entrySize := int64(len(key)) + int64(len(value))
	if entrySize > c.maxEntry {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.size -= int64(len(key)) + int64(len(old.([]byte)))
	}
	c.lru.Add(key, value)
	c.size += entrySize
	for c.size > c.maxSize {
		k, _, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		log.Debugw("Evicted cache entry", "key", k, "size", c.size, "budget", c.maxSize)
	}
}

// Erase removes the key if present.
func (c *ResultCache) Erase(key string) {
	if int64(len(key)) > c.maxEntry {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Size returns the bytes currently held.
func (c *ResultCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
