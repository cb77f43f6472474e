package compact

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/riorita/go-riorita/store/types"
	"github.com/stretchr/testify/require"
)

const testLifetime = types.Timestamp(1000000000)

func openStore(t *testing.T, dir string, options ...Option) *Store {
	t.Helper()
	s, err := Open(dir, options...)
	require.NoError(t, err)
	return s
}

func TestPutGet(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	value := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	now := types.Timestamp(1000)

	stored, err := s.Put([]byte("s"), []byte("k"), value, now, testLifetime, true)
	require.NoError(t, err)
	require.True(t, stored)

	require.True(t, s.Has([]byte("s"), []byte("k"), now))

	// Reads are idempotent and byte-identical.
	for i := 0; i < 3; i++ {
		got, found, err := s.Get([]byte("s"), []byte("k"), now)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, value, got)
	}

	_, found, err := s.Get([]byte("s"), []byte("missing"), now)
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = s.Get([]byte("other"), []byte("k"), now)
	require.NoError(t, err)
	require.False(t, found)
}

func TestOverwrite(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	now := types.Timestamp(1000)

	stored, err := s.Put([]byte("s"), []byte("k"), []byte("a"), now, testLifetime, false)
	require.NoError(t, err)
	require.True(t, stored)

	// Denied: a live entry exists and overwrite is false.
	stored, err = s.Put([]byte("s"), []byte("k"), []byte("b"), now, testLifetime, false)
	require.NoError(t, err)
	require.False(t, stored)

	got, found, err := s.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), got)

	// Allowed with overwrite set.
	stored, err = s.Put([]byte("s"), []byte("k"), []byte("b"), now, testLifetime, true)
	require.NoError(t, err)
	require.True(t, stored)

	got, _, err = s.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)
}

func TestErase(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	now := types.Timestamp(1000)

	_, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, testLifetime, true)
	require.NoError(t, err)

	erased, err := s.Erase([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, erased)

	require.False(t, s.Has([]byte("s"), []byte("k"), now))
	_, found, err := s.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.False(t, found)

	// A second erase has nothing to delete.
	erased, err = s.Erase([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.False(t, erased)

	// The tombstoned key is free for a non-overwriting put.
	stored, err := s.Put([]byte("s"), []byte("k"), []byte("c"), now, testLifetime, false)
	require.NoError(t, err)
	require.True(t, stored)

	got, found, err := s.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("c"), got)
}

func TestEraseSection(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	now := types.Timestamp(1000)

	for _, name := range []string{"one", "two", "three"} {
		_, err := s.Put([]byte("gone"), []byte(name), []byte(name), now, testLifetime, true)
		require.NoError(t, err)
	}
	_, err := s.Put([]byte("kept"), []byte("one"), []byte("untouched"), now, testLifetime, true)
	require.NoError(t, err)

	require.NoError(t, s.EraseSection([]byte("gone")))

	for _, name := range []string{"one", "two", "three"} {
		require.False(t, s.Has([]byte("gone"), []byte(name), now))
	}
	require.True(t, s.Has([]byte("kept"), []byte("one"), now))

	// Erasing an unknown section is a no-op.
	require.NoError(t, s.EraseSection([]byte("never-there")))
}

func TestExpiration(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	now := types.Timestamp(5000)

	_, err := s.Put([]byte("s"), []byte("k"), []byte("x"), now, 100, true)
	require.NoError(t, err)

	require.True(t, s.Has([]byte("s"), []byte("k"), now+99))
	require.False(t, s.Has([]byte("s"), []byte("k"), now+100))
	require.False(t, s.Has([]byte("s"), []byte("k"), now+101))

	_, found, err := s.Get([]byte("s"), []byte("k"), now+101)
	require.NoError(t, err)
	require.False(t, found)

	// An expired entry does not block a non-overwriting put.
	stored, err := s.Put([]byte("s"), []byte("k"), []byte("y"), now+101, testLifetime, false)
	require.NoError(t, err)
	require.True(t, stored)
	require.True(t, s.Has([]byte("s"), []byte("k"), now+102))
}

func TestSegmentRollover(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, GroupCount(1), DataFileSize(4096))
	defer s.Close()
	now := types.Timestamp(1000)

	values := make([][]byte, 5)
	for i := range values {
		value := make([]byte, 1000)
		for j := range value {
			value[j] = byte(i + j)
		}
		values[i] = value
		stored, err := s.Put([]byte("s"), []byte(fmt.Sprintf("k%d", i)), value, now, testLifetime, true)
		require.NoError(t, err)
		require.True(t, stored)
	}

	// Four records fit in segment 0000; the fifth rolled over.
	fi, err := os.Stat(filepath.Join(dir, "0", "riorita.0000"))
	require.NoError(t, err)
	require.Equal(t, int64(4*1004), fi.Size())

	fi, err = os.Stat(filepath.Join(dir, "0", "riorita.0001"))
	require.NoError(t, err)
	require.Equal(t, int64(1004), fi.Size())

	for i, value := range values {
		got, found, err := s.Get([]byte("s"), []byte(fmt.Sprintf("k%d", i)), now)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, value, got)
	}
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()
	now := types.Timestamp(1000)

	s := openStore(t, dir)
	_, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, testLifetime, true)
	require.NoError(t, err)
	_, err = s.Put([]byte("s"), []byte("k2"), []byte("v2"), now, testLifetime, true)
	require.NoError(t, err)
	erased, err := s.Erase([]byte("s"), []byte("k2"), now)
	require.NoError(t, err)
	require.True(t, erased)

	reopened := openStore(t, dir)
	defer reopened.Close()

	got, found, err := reopened.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), got)
	require.False(t, reopened.Has([]byte("s"), []byte("k2"), now))

	// Appends continue where the recovered offsets left off.
	_, err = reopened.Put([]byte("s"), []byte("k3"), []byte("v3"), now, testLifetime, true)
	require.NoError(t, err)
	got, found, err = reopened.Get([]byte("s"), []byte("k3"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v3"), got)

	got, found, err = reopened.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), got)
}

func TestRecoveryTruncatedIndex(t *testing.T) {
	dir := t.TempDir()
	now := types.Timestamp(1000)

	s := openStore(t, dir)
	_, err := s.Put([]byte("s"), []byte("k"), []byte{0xDE, 0xAD, 0xBE, 0xEF}, now, testLifetime, true)
	require.NoError(t, err)

	indexPath := filepath.Join(dir, IndexFileName)
	fi, err := os.Stat(indexPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(indexPath, fi.Size()-3))

	reopened := openStore(t, dir)
	defer reopened.Close()

	// The torn record is gone.
	require.False(t, reopened.Has([]byte("s"), []byte("k"), now))

	stored, err := reopened.Put([]byte("s"), []byte("k"), []byte("y"), now, testLifetime, true)
	require.NoError(t, err)
	require.True(t, stored)

	got, found, err := reopened.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("y"), got)

	// And the log is consistent for the next recovery.
	again := openStore(t, dir)
	got, found, err = again.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("y"), got)
}

func TestRecoveryAcrossRollover(t *testing.T) {
	dir := t.TempDir()
	now := types.Timestamp(1000)

	s := openStore(t, dir, GroupCount(1), DataFileSize(4096))
	for i := 0; i < 5; i++ {
		_, err := s.Put([]byte("s"), []byte(fmt.Sprintf("k%d", i)), make([]byte, 1000), now, testLifetime, true)
		require.NoError(t, err)
	}

	reopened := openStore(t, dir, GroupCount(1), DataFileSize(4096))
	defer reopened.Close()

	// The recovered offset continues in segment 0001.
	_, err := reopened.Put([]byte("s"), []byte("k5"), make([]byte, 1000), now, testLifetime, true)
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dir, "0", "riorita.0001"))
	require.NoError(t, err)
	require.Equal(t, int64(2*1004), fi.Size())

	for i := 0; i < 6; i++ {
		_, found, err := reopened.Get([]byte("s"), []byte(fmt.Sprintf("k%d", i)), now)
		require.NoError(t, err)
		require.True(t, found, "k%d", i)
	}
}

func TestClose(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	now := types.Timestamp(1000)

	_, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, testLifetime, true)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.False(t, s.Has([]byte("s"), []byte("k"), now))
	_, found, err := s.Get([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.False(t, found)

	stored, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, testLifetime, true)
	require.NoError(t, err)
	require.False(t, stored)

	erased, err := s.Erase([]byte("s"), []byte("k"), now)
	require.NoError(t, err)
	require.False(t, erased)
	require.NoError(t, s.EraseSection([]byte("s")))

	// Everything beneath the root is gone; the root itself remains.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, GroupCount(1))
	defer s.Close()
	now := types.Timestamp(1000)

	_, err := s.Put([]byte("s"), []byte("good"), []byte("unharmed"), now, testLifetime, true)
	require.NoError(t, err)
	_, err = s.Put([]byte("s"), []byte("bad"), []byte("to be damaged"), now, testLifetime, true)
	require.NoError(t, err)

	// Flip one byte of the second value on disk.
	segment := filepath.Join(dir, "0", "riorita.0000")
	data, err := os.ReadFile(segment)
	require.NoError(t, err)
	data[len("unharmed")+4+2] ^= 0x01
	require.NoError(t, os.WriteFile(segment, data, 0o644))
	s.cache.drop(segmentID{group: 0, index: 0})

	_, _, err = s.Get([]byte("s"), []byte("bad"), now)
	require.ErrorIs(t, err, types.ErrCorruptRecord)

	// The engine stays open and unrelated reads still succeed.
	got, found, err := s.Get([]byte("s"), []byte("good"), now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("unharmed"), got)
}

func TestStaleIndexWithoutSegment(t *testing.T) {
	dir := t.TempDir()
	now := types.Timestamp(1000)

	s := openStore(t, dir, GroupCount(1))
	_, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, testLifetime, true)
	require.NoError(t, err)

	// The index record survived but the segment never made it to disk.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "0")))

	reopened := openStore(t, dir, GroupCount(1))
	defer reopened.Close()

	_, _, err = reopened.Get([]byte("s"), []byte("k"), now)
	require.ErrorIs(t, err, types.ErrCorruptRecord)
}

func TestDeterministicLayout(t *testing.T) {
	now := types.Timestamp(1000)
	layout := func() map[string]int64 {
		dir := t.TempDir()
		s := openStore(t, dir)
		for _, name := range []string{"alpha", "beta", "gamma", "delta"} {
			_, err := s.Put([]byte("s"), []byte(name), []byte(name), now, testLifetime, true)
			require.NoError(t, err)
		}
		files := make(map[string]int64)
		require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			require.NoError(t, err)
			files[rel] = info.Size()
			return nil
		}))
		return files
	}

	// The shard for a key is a pure function of the key bytes.
	require.Equal(t, layout(), layout())
}
