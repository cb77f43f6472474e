// Package store defines the storage contract shared by all backends
// and constructs backends by name.
package store

import (
	"fmt"

	"github.com/riorita/go-riorita/store/compact"
	"github.com/riorita/go-riorita/store/files"
	"github.com/riorita/go-riorita/store/leveldb"
	"github.com/riorita/go-riorita/store/memory"
	"github.com/riorita/go-riorita/store/types"
)

// Storage is the common operation set over (section, name) keys.
// Sections group related names for bulk erase. Absence is a boolean,
// not an error; errors report I/O-level failures only.
type Storage interface {
	// Has reports whether a live entry exists for (section, name).
	Has(section, name []byte, now types.Timestamp) bool
	// Get returns the value for (section, name), or found=false when
	// the entry is absent, tombstoned, or expired.
	Get(section, name []byte, now types.Timestamp) ([]byte, bool, error)
	// Put stores value with the given lifetime. It returns false when
	// the storage is closed, or when overwrite is false and a live
	// entry exists.
	Put(section, name, value []byte, now, lifetime types.Timestamp, overwrite bool) (bool, error)
	// Erase logically deletes (section, name), reporting whether a
	// live entry was deleted.
	Erase(section, name []byte, now types.Timestamp) (bool, error)
	// EraseSection logically deletes every live name in the section.
	EraseSection(section []byte) error
	// Close releases the backend. Operations on a closed storage are
	// no-ops: puts return false, gets and has report absent.
	Close() error
}

var (
	_ Storage = (*compact.Store)(nil)
	_ Storage = (*memory.Store)(nil)
	_ Storage = (*files.Store)(nil)
	_ Storage = (*leveldb.Store)(nil)
)

// Type identifies a storage backend.
type Type int

const (
	Illegal Type = iota
	Memory
	Files
	LevelDB
	RocksDB
	Compact
)

// ParseType maps a backend name from the command line to its Type.
func ParseType(name string) Type {
	switch name {
	case "memory":
		return Memory
	case "files":
		return Files
	case "leveldb":
		return LevelDB
	case "rocksdb":
		return RocksDB
	case "compact":
		return Compact
	}
	return Illegal
}

func (t Type) String() string {
	switch t {
	case Memory:
		return "memory"
	case Files:
		return "files"
	case LevelDB:
		return "leveldb"
	case RocksDB:
		return "rocksdb"
	case Compact:
		return "compact"
	}
	return "illegal"
}

// New constructs the storage backend of the given type.
func New(t Type, options ...Option) (Storage, error) {
	cfg := config{
		groupCount:   defaultGroupCount,
		dataFileSize: defaultDataFileSize,
	}
	cfg.apply(options)

	switch t {
	case Memory:
		return memory.New(), nil
	case Files:
		return files.Open(cfg.directory)
	case LevelDB:
		return leveldb.Open(cfg.directory)
	case RocksDB:
		return nil, fmt.Errorf("%w: rocksdb backend is not built in", types.ErrUnknownBackend)
	case Compact:
		return compact.Open(cfg.directory,
			compact.GroupCount(cfg.groupCount),
			compact.DataFileSize(cfg.dataFileSize),
			compact.SyncWrites(cfg.syncWrites))
	}
	return nil, fmt.Errorf("%w: %d", types.ErrUnknownBackend, t)
}
