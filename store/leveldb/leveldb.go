// Package leveldb implements the storage contract over goleveldb.
// Keys are composed as len(section) || section || name so that a
// section maps to a contiguous key range; section erase walks that
// range with a prefix iterator. Values carry an 8-byte expiration
// header.
package leveldb

import (
	"encoding/binary"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/riorita/go-riorita/store/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var log = logging.Logger("riorita/leveldb")

const headerSize = 8

// Store is the goleveldb backend.
type Store struct {
	db *leveldb.DB

	mu     sync.Mutex
	closed bool
}

func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open leveldb at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func sectionPrefix(section []byte) []byte {
	prefix := make([]byte, 4+len(section))
	binary.LittleEndian.PutUint32(prefix, uint32(len(section)))
	copy(prefix[4:], section)
	return prefix
}

func composeKey(section, name []byte) []byte {
	return append(sectionPrefix(section), name...)
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) lookup(key []byte) (value []byte, expiresAt types.Timestamp, ok bool, err error) {
	data, err := s.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	if len(data) < headerSize {
		return nil, 0, false, types.ErrCorruptRecord
	}
	return data[headerSize:], types.Timestamp(binary.LittleEndian.Uint64(data)), true, nil
}

func (s *Store) Has(section, name []byte, now types.Timestamp) bool {
	if s.isClosed() {
		return false
	}
	_, expiresAt, ok, err := s.lookup(composeKey(section, name))
	if err != nil {
		log.Errorw("Cannot read key", "err", err)
		return false
	}
	return ok && expiresAt > now
}

func (s *Store) Get(section, name []byte, now types.Timestamp) ([]byte, bool, error) {
	if s.isClosed() {
		return nil, false, nil
	}
	value, expiresAt, ok, err := s.lookup(composeKey(section, name))
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
	key := composeKey(section, name)
	if !overwrite {
		_, expiresAt, ok, err := s.lookup(key)
		if err != nil {
			return false, err
		}
		if ok && expiresAt > now {
			return false, nil
		}
	}
	data := make([]byte, headerSize+len(value))
	binary.LittleEndian.PutUint64(data, uint64(now+lifetime))
	copy(data[headerSize:], value)
	if err := s.db.Put(key, data, nil); err != nil {
		return false, fmt.Errorf("cannot put key: %w", err)
	}
	return true, nil
}

func (s *Store) Erase(section, name []byte, now types.Timestamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	key := composeKey(section, name)
	_, expiresAt, ok, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err = s.db.Delete(key, nil); err != nil {
		return false, fmt.Errorf("cannot delete key: %w", err)
	}
	return expiresAt > now, nil
}

func (s *Store) EraseSection(section []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(sectionPrefix(section)), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("cannot scan section: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("cannot erase section: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
