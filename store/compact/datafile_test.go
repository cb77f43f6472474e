package compact

import (
	"os"
	"testing"

	"github.com/riorita/go-riorita/store/types"
	"github.com/stretchr/testify/require"
)

func newDataFileSet(t *testing.T) *dataFileSet {
	t.Helper()
	root := t.TempDir()
	cache := newSegmentCache(root, 4)
	t.Cleanup(cache.clear)
	return &dataFileSet{root: root, group: 0, cache: cache}
}

func TestDataFileAppendRead(t *testing.T) {
	s := newDataFileSet(t)
	require.NoError(t, s.create(0))

	value := []byte("hello segment")
	fp := Fingerprint(value)
	require.NoError(t, s.append(0, value, fp))

	pos := types.Position{Group: 0, Index: 0, Offset: 0, Length: int32(len(value)), Fingerprint: fp}
	got, err := s.read(pos)
	require.NoError(t, err)
	require.Equal(t, value, got)

	// Records pack back to back.
	second := []byte("another")
	fp2 := Fingerprint(second)
	require.NoError(t, s.append(0, second, fp2))
	got, err = s.read(types.Position{Index: 0, Offset: int32(len(value) + 4), Length: int32(len(second)), Fingerprint: fp2})
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestDataFileReadMissingSegment(t *testing.T) {
	s := newDataFileSet(t)
	_, err := s.read(types.Position{Index: 3, Length: 10, Fingerprint: 1234})
	require.ErrorIs(t, err, types.ErrCorruptRecord)
}

func TestDataFileReadShort(t *testing.T) {
	s := newDataFileSet(t)
	require.NoError(t, s.create(0))
	value := []byte("abc")
	require.NoError(t, s.append(0, value, Fingerprint(value)))

	_, err := s.read(types.Position{Index: 0, Offset: 0, Length: 100, Fingerprint: Fingerprint(value)})
	require.ErrorIs(t, err, types.ErrCorruptRecord)
}

func TestDataFileReadCorrupted(t *testing.T) {
	s := newDataFileSet(t)
	require.NoError(t, s.create(0))
	value := []byte("precious bytes")
	fp := Fingerprint(value)
	require.NoError(t, s.append(0, value, fp))

	// Flip one value byte on disk.
	path := s.segmentPath(0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[2] ^= 0x40
	require.NoError(t, os.WriteFile(path, data, 0o644))
	// Reads must not be served by a cached pre-corruption handle in
	// this test.
	s.cache.drop(segmentID{group: s.group, index: 0})

	_, err = s.read(types.Position{Index: 0, Offset: 0, Length: int32(len(value)), Fingerprint: fp})
	require.ErrorIs(t, err, types.ErrCorruptRecord)
}

func TestDataFileCreateTruncates(t *testing.T) {
	s := newDataFileSet(t)
	require.NoError(t, s.create(0))
	value := []byte("old")
	require.NoError(t, s.append(0, value, Fingerprint(value)))

	require.NoError(t, s.create(0))
	fi, err := os.Stat(s.segmentPath(0))
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}
