package compact

import (
	"os"
	"sync"
)

// segmentID names one segment file: the shard and the segment number
// within it.
type segmentID struct {
	group int32
	index int32
}

// segmentCache keeps a bounded set of read-only handles to segment
// files. Get traffic concentrates on each shard's most recent
// segments, so a small pool of open handles absorbs almost every read
// without letting descriptors grow with segment count.
//
// Handles are reference-counted: acquire/release must pair. When a
// segment is evicted (or dropped on rollover truncation) while a read
// still holds it, the handle is parked aside and closed by the last
// release.
type segmentCache struct {
	root     string
	capacity int

	mu     sync.Mutex
	clock  uint64
	open   map[segmentID]*segmentHandle
	parked map[*os.File]*segmentHandle
}

type segmentHandle struct {
	file     *os.File
	refs     int
	lastUsed uint64
}

func newSegmentCache(root string, capacity int) *segmentCache {
	return &segmentCache{
		root:     root,
		capacity: capacity,
		open:     make(map[segmentID]*segmentHandle),
		parked:   make(map[*os.File]*segmentHandle),
	}
}

// acquire returns an open handle for the segment, opening the file on
// a miss. Every acquire must be paired with a release of the same
// file.
func (c *segmentCache) acquire(id segmentID) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if h, ok := c.open[id]; ok {
		h.refs++
		h.lastUsed = c.clock
		return h.file, nil
	}

	file, err := os.Open(segmentPath(c.root, id.group, id.index))
	if err != nil {
		return nil, err
	}
	c.open[id] = &segmentHandle{file: file, refs: 1, lastUsed: c.clock}

	for c.capacity != 0 && len(c.open) > c.capacity {
		c.evictOldest()
	}
	return file, nil
}

// release returns a handle obtained from acquire. Parked handles are
// closed once the last reader lets go.
func (c *segmentCache) release(id segmentID, file *os.File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.open[id]; ok && h.file == file {
		if h.refs > 0 {
			h.refs--
		}
		return
	}
	if h, ok := c.parked[file]; ok {
		h.refs--
		if h.refs <= 0 {
			delete(c.parked, file)
			h.file.Close()
		}
	}
}

// drop discards the cached handle for a segment whose file is about to
// be replaced, so no read is served by a handle to the old inode.
func (c *segmentCache) drop(id segmentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.open[id]; ok {
		c.discard(id, h)
	}
}

// clear closes every cached handle.
func (c *segmentCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, h := range c.open {
		c.discard(id, h)
	}
}

// evictOldest discards the least recently used segment. Called with
// the lock held.
func (c *segmentCache) evictOldest() {
	var (
		oldestID segmentID
		oldest   *segmentHandle
	)
	for id, h := range c.open {
		if oldest == nil || h.lastUsed < oldest.lastUsed {
			oldestID = id
			oldest = h
		}
	}
	if oldest != nil {
		c.discard(oldestID, oldest)
	}
}

// discard removes a handle from the cache, parking it if readers still
// hold it. Called with the lock held.
func (c *segmentCache) discard(id segmentID, h *segmentHandle) {
	delete(c.open, id)
	if h.refs > 0 {
		c.parked[h.file] = h
		return
	}
	h.file.Close()
}
