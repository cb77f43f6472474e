package store_test

import (
	"path/filepath"
	"testing"

	"github.com/riorita/go-riorita/store"
	"github.com/riorita/go-riorita/store/types"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	cases := map[string]store.Type{
		"memory":  store.Memory,
		"files":   store.Files,
		"leveldb": store.LevelDB,
		"rocksdb": store.RocksDB,
		"compact": store.Compact,
		"":        store.Illegal,
		"bolt":    store.Illegal,
		"COMPACT": store.Illegal,
	}
	for name, want := range cases {
		require.Equal(t, want, store.ParseType(name), "%q", name)
	}
}

func TestTypeString(t *testing.T) {
	for _, typ := range []store.Type{store.Memory, store.Files, store.LevelDB, store.RocksDB, store.Compact} {
		require.Equal(t, typ, store.ParseType(typ.String()))
	}
	require.Equal(t, "illegal", store.Illegal.String())
}

func TestNewBackends(t *testing.T) {
	now := types.Timestamp(100)
	for _, typ := range []store.Type{store.Memory, store.Files, store.LevelDB, store.Compact} {
		t.Run(typ.String(), func(t *testing.T) {
			s, err := store.New(typ, store.Directory(filepath.Join(t.TempDir(), "data")))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, s.Close()) })

			stored, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, 1000, true)
			require.NoError(t, err)
			require.True(t, stored)

			got, found, err := s.Get([]byte("s"), []byte("k"), now)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("v"), got)
		})
	}
}

func TestNewRocksDBUnsupported(t *testing.T) {
	_, err := store.New(store.RocksDB, store.Directory(t.TempDir()))
	require.ErrorIs(t, err, types.ErrUnknownBackend)
}

func TestNewCompactOptions(t *testing.T) {
	s, err := store.New(store.Compact,
		store.Directory(filepath.Join(t.TempDir(), "data")),
		store.GroupCount(2),
		store.DataFileSize(1<<20),
		store.SyncWrites(true))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	now := types.Timestamp(1)
	stored, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, 1000, true)
	require.NoError(t, err)
	require.True(t, stored)
}
