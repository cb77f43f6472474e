// Package compact implements the compact append-only storage engine: a
// sharded, crash-tolerant key-value store keeping a recoverable
// in-memory directory over a set of append-only segment files.
//
// Values live in per-shard segment files; the (section, name) →
// Position directory is rebuilt at open by replaying a single
// append-only index log. Deletions are logical (tombstones in the
// log); physical space is reclaimed only by Close, which removes the
// whole store.
package compact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/riorita/go-riorita/store/types"
)

var log = logging.Logger("riorita/compact")

// Store is the compact engine. All operations are safe for concurrent
// use. The lock order is shard lock → directory lock, never the
// reverse.
type Store struct {
	dir          string
	groups       int
	dataFileSize int64

	ilog  *indexLog
	files []*dataFileSet
	cache *segmentCache

	shardLks []sync.Mutex

	// dirLk guards directory, closed, and index log appends. The
	// per-shard segment counters (indices, offsets) are guarded by the
	// corresponding shard lock once Open returns.
	dirLk     sync.Mutex
	directory map[string]map[string]types.Position
	indices   []int32
	offsets   []int64
	closed    bool
}

// Open opens the store rooted at dir, creating it if needed, and
// replays the index log to rebuild the directory. The group count is
// fixed for the lifetime of the store's files.
func Open(dir string, options ...Option) (*Store, error) {
	cfg := config{
		groupCount:    defaultGroupCount,
		dataFileSize:  defaultDataFileSize,
		fileCacheSize: defaultFileCacheSize,
	}
	cfg.apply(options)
	if cfg.groupCount < 1 {
		return nil, fmt.Errorf("group count must be positive, got %d", cfg.groupCount)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store directory %s: %w", dir, err)
	}

	s := &Store{
		dir:          dir,
		groups:       cfg.groupCount,
		dataFileSize: cfg.dataFileSize,
		ilog:         &indexLog{path: filepath.Join(dir, IndexFileName), syncWrites: cfg.syncWrites},
		cache:        newSegmentCache(dir, cfg.fileCacheSize),
		files:        make([]*dataFileSet, cfg.groupCount),
		shardLks:     make([]sync.Mutex, cfg.groupCount),
		directory:    make(map[string]map[string]types.Position),
		indices:      make([]int32, cfg.groupCount),
		offsets:      make([]int64, cfg.groupCount),
	}
	for g := 0; g < cfg.groupCount; g++ {
		s.files[g] = &dataFileSet{root: dir, group: int32(g), cache: s.cache}
		// The first put in each shard rolls over to segment 0 at offset 0.
		s.indices[g] = -1
		s.offsets[g] = cfg.dataFileSize
	}

	err := s.ilog.replay(func(section, name []byte, pos types.Position) {
		if pos.Group < 0 || int(pos.Group) >= s.groups {
			log.Warnw("Index record references unknown shard, skipping", "group", pos.Group, "groups", s.groups)
			return
		}
		byName := s.directory[string(section)]
		if byName == nil {
			byName = make(map[string]types.Position)
			s.directory[string(section)] = byName
		}
		byName[string(name)] = pos

		if pos.IsTombstone() && pos.Group == 0 && pos.Index == 0 && pos.Offset == 0 {
			return
		}
		end := int64(pos.Offset) + int64(pos.Length) + fingerprintSize
		if pos.Index > s.indices[pos.Group] {
			s.indices[pos.Group] = pos.Index
			s.offsets[pos.Group] = end
		} else if pos.Index == s.indices[pos.Group] && end > s.offsets[pos.Group] {
			s.offsets[pos.Group] = end
		}
	})
	if err != nil {
		return nil, err
	}

	log.Infow("Opened compact store", "dir", dir, "groups", s.groups, "sections", len(s.directory))
	return s, nil
}

// Dir returns the store root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Groups returns the shard count the store was opened with.
func (s *Store) Groups() int {
	return s.groups
}

// Has reports whether a live entry exists for (section, name): present
// in the directory, not tombstoned, not expired.
func (s *Store) Has(section, name []byte, now types.Timestamp) bool {
	s.dirLk.Lock()
	defer s.dirLk.Unlock()
	if s.closed {
		return false
	}
	pos, ok := s.directory[string(section)][string(name)]
	return ok && !pos.Dead(now)
}

// Get returns the value stored under (section, name). Absent,
// tombstoned, and expired entries return found=false. A value that
// fails verification returns an error wrapping types.ErrCorruptRecord;
// the store stays open and unrelated reads may still succeed.
func (s *Store) Get(section, name []byte, now types.Timestamp) ([]byte, bool, error) {
	s.dirLk.Lock()
	if s.closed {
		s.dirLk.Unlock()
		return nil, false, nil
	}
	pos, ok := s.directory[string(section)][string(name)]
	s.dirLk.Unlock()

	if !ok || pos.Dead(now) {
		return nil, false, nil
	}

	s.shardLks[pos.Group].Lock()
	defer s.shardLks[pos.Group].Unlock()
	value, err := s.files[pos.Group].read(pos)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores value under (section, name) with the given lifetime. It
// returns false without writing when the store is closed, or when
// overwrite is false and a live entry already exists. An error from the
// segment or index log append is fatal: the write must not be retried
// and the process should be treated as untrustworthy.
func (s *Store) Put(section, name, value []byte, now, lifetime types.Timestamp, overwrite bool) (bool, error) {
	if s.isClosed() {
		return false, nil
	}

	g := groupOf(section, name, s.groups)
	s.shardLks[g].Lock()
	defer s.shardLks[g].Unlock()

	if !overwrite && s.Has(section, name, now) {
		return false, nil
	}

	if s.offsets[g]+int64(len(value))+fingerprintSize >= s.dataFileSize {
		s.indices[g]++
		s.offsets[g] = 0
		if err := s.files[g].create(s.indices[g]); err != nil {
			return false, err
		}
	}

	fp := Fingerprint(value)
	pos := types.Position{
		Group:       g,
		Index:       s.indices[g],
		Offset:      int32(s.offsets[g]),
		Length:      int32(len(value)),
		Fingerprint: fp,
		ExpiresAt:   now + lifetime,
	}

	if err := s.files[g].append(s.indices[g], value, fp); err != nil {
		return false, err
	}

	s.dirLk.Lock()
	if s.closed {
		s.dirLk.Unlock()
		return false, nil
	}
	byName := s.directory[string(section)]
	if byName == nil {
		byName = make(map[string]types.Position)
		s.directory[string(section)] = byName
	}
	byName[string(name)] = pos
	err := s.ilog.append(section, name, pos)
	s.dirLk.Unlock()
	if err != nil {
		// The in-memory directory already points at the new value; the
		// log does not. The put has failed and must not be retried.
		return false, err
	}

	s.offsets[g] += int64(len(value)) + fingerprintSize
	return true, nil
}

// Erase tombstones (section, name). It returns true iff a live entry
// was tombstoned. Segment files are untouched.
func (s *Store) Erase(section, name []byte, now types.Timestamp) (bool, error) {
	s.dirLk.Lock()
	defer s.dirLk.Unlock()
	if s.closed {
		return false, nil
	}
	byName := s.directory[string(section)]
	pos, ok := byName[string(name)]
	if !ok || pos.Dead(now) {
		return false, nil
	}
	tomb := types.Tombstone()
	byName[string(name)] = tomb
	return true, s.ilog.append(section, name, tomb)
}

// EraseSection tombstones every name in the section that is not
// already tombstoned. Only the directory lock is held, so the erase is
// not atomic against concurrent puts into the same section.
func (s *Store) EraseSection(section []byte) error {
	s.dirLk.Lock()
	defer s.dirLk.Unlock()
	if s.closed {
		return nil
	}
	byName := s.directory[string(section)]
	tomb := types.Tombstone()
	for name, pos := range byName {
		if pos.IsTombstone() {
			continue
		}
		byName[name] = tomb
		if err := s.ilog.append(section, []byte(name), tomb); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the store closed and removes everything beneath its root
// directory. All subsequent operations are no-ops: puts return false,
// gets and has report absent. Close is idempotent.
func (s *Store) Close() error {
	s.dirLk.Lock()
	defer s.dirLk.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.clear()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("cannot list store directory %s: %w", s.dir, err)
	}
	for _, entry := range entries {
		if err = os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("cannot remove %s: %w", entry.Name(), err)
		}
	}
	log.Infow("Closed compact store", "dir", s.dir)
	return nil
}

func (s *Store) isClosed() bool {
	s.dirLk.Lock()
	defer s.dirLk.Unlock()
	return s.closed
}
