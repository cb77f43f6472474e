// Package files implements the storage contract with one file per key.
// Keys are mapped to paths through a digest, so arbitrary section and
// name bytes never reach the filesystem. Each file carries an 8-byte
// expiration header ahead of the value.
package files

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/riorita/go-riorita/store/types"
)

var log = logging.Logger("riorita/files")

const headerSize = 8

// Store is the one-file-per-key backend rooted at a directory. Section
// directories hold one file per name:
//
//	{root}/{sha1(section)}/{sha1(name)}
type Store struct {
	dir string

	mu     sync.RWMutex
	closed bool
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func digest(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (s *Store) sectionPath(section []byte) string {
	return filepath.Join(s.dir, digest(section))
}

func (s *Store) path(section, name []byte) string {
	return filepath.Join(s.sectionPath(section), digest(name))
}

// readEntry loads one key file. Missing files report ok=false.
func readEntry(path string) (value []byte, expiresAt types.Timestamp, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	if len(data) < headerSize {
		return nil, 0, false, fmt.Errorf("file %s: %w", path, types.ErrCorruptRecord)
	}
	expiresAt = types.Timestamp(binary.LittleEndian.Uint64(data))
	return data[headerSize:], expiresAt, true, nil
}

func (s *Store) Has(section, name []byte, now types.Timestamp) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, expiresAt, ok, err := readEntry(s.path(section, name))
	if err != nil {
		log.Errorw("Cannot read key file", "err", err)
		return false
	}
	return ok && expiresAt > now
}

func (s *Store) Get(section, name []byte, now types.Timestamp) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, nil
	}
	value, expiresAt, ok, err := readEntry(s.path(section, name))
	if err != nil {
		return nil, false, err
	}
	if !ok || expiresAt <= now {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Put(section, name, value []byte, now, lifetime types.Timestamp, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	path := s.path(section, name)
	if !overwrite {
		_, expiresAt, ok, err := readEntry(path)
		if err != nil {
			return false, err
		}
		if ok && expiresAt > now {
			return false, nil
		}
	}
	if err := os.MkdirAll(s.sectionPath(section), 0o755); err != nil {
		return false, fmt.Errorf("cannot create section directory: %w", err)
	}
	data := make([]byte, headerSize+len(value))
	binary.LittleEndian.PutUint64(data, uint64(now+lifetime))
	copy(data[headerSize:], value)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("cannot write key file %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) Erase(section, name []byte, now types.Timestamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	path := s.path(section, name)
	_, expiresAt, ok, err := readEntry(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err = os.Remove(path); err != nil {
		return false, fmt.Errorf("cannot remove key file %s: %w", path, err)
	}
	return expiresAt > now, nil
}

func (s *Store) EraseSection(section []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return os.RemoveAll(s.sectionPath(section))
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
