package compact

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/riorita/go-riorita/store/types"
)

const dataFilePattern = "riorita.%04d"

const fingerprintSize = 4

// segmentPath places segment files as {root}/{group}/riorita.{index:04d}.
func segmentPath(root string, group, index int32) string {
	return filepath.Join(root, strconv.Itoa(int(group)), fmt.Sprintf(dataFilePattern, index))
}

// dataFileSet is one shard's pool of append-only segment files. The
// engine owns the current-segment index and offset; the set only
// performs the file operations. Reads go through a shared cache of
// open segment handles.
type dataFileSet struct {
	root  string
	group int32
	cache *segmentCache
}

func (s *dataFileSet) segmentPath(index int32) string {
	return segmentPath(s.root, s.group, index)
}

// create makes the shard directory if needed and truncates a fresh
// segment file for the given index.
func (s *dataFileSet) create(index int32) error {
	if err := os.MkdirAll(filepath.Join(s.root, strconv.Itoa(int(s.group))), 0o755); err != nil {
		return fmt.Errorf("cannot create shard directory: %w", err)
	}
	path := s.segmentPath(index)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create segment %s: %w", path, err)
	}
	// A stale cached handle would read the pre-truncate file.
	s.cache.drop(segmentID{group: s.group, index: index})
	return file.Close()
}

// append writes value || fingerprint to the segment in a single write.
func (s *dataFileSet) append(index int32, value []byte, fp int32) error {
	path := s.segmentPath(index)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open segment %s: %w", path, err)
	}
	defer file.Close()

	buf := make([]byte, len(value)+fingerprintSize)
	copy(buf, value)
	binary.LittleEndian.PutUint32(buf[len(value):], uint32(fp))
	if _, err = file.Write(buf); err != nil {
		return fmt.Errorf("cannot append to segment %s: %w", path, err)
	}
	return nil
}

// read loads the value at pos and verifies its fingerprint against both
// the Position and the trailing word. Any open, seek, or short-read
// failure, and any mismatch, is reported as a corrupt record: a
// Position recovered from a stale index log may reference a segment
// that was never written.
func (s *dataFileSet) read(pos types.Position) ([]byte, error) {
	id := segmentID{group: s.group, index: pos.Index}
	file, err := s.cache.acquire(id)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %v: %w", s.segmentPath(pos.Index), err, types.ErrCorruptRecord)
	}
	defer s.cache.release(id, file)

	buf := make([]byte, int(pos.Length)+fingerprintSize)
	if _, err = file.ReadAt(buf, int64(pos.Offset)); err != nil {
		return nil, fmt.Errorf("segment %s: read at %d: %v: %w", s.segmentPath(pos.Index), pos.Offset, err, types.ErrCorruptRecord)
	}

	trailing := int32(binary.LittleEndian.Uint32(buf[pos.Length:]))
	if fp := Fingerprint(buf[:pos.Length]); fp != pos.Fingerprint || trailing != pos.Fingerprint {
		log.Errorw("Fingerprint mismatch", "segment", s.segmentPath(pos.Index), "offset", pos.Offset, "want", pos.Fingerprint, "computed", fp, "trailing", trailing)
		return nil, fmt.Errorf("segment %s: fingerprint mismatch at %d: %w", s.segmentPath(pos.Index), pos.Offset, types.ErrCorruptRecord)
	}
	return buf[:pos.Length], nil
}
