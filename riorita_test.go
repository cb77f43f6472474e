package riorita

import (
	"testing"

	"github.com/riorita/go-riorita/store/memory"
	"github.com/riorita/go-riorita/store/types"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	now := types.Timestamp(1)
	stored, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, 1000, true)
	require.NoError(t, err)
	require.True(t, stored)

	_, err = Open("no-such-backend", "")
	require.Error(t, err)
}

func TestOpenCompact(t *testing.T) {
	s, err := OpenCompact(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.Equal(t, 8, s.Groups())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.Zero(t, r.Len())

	first := r.Register(memory.New())
	second := r.Register(memory.New())
	require.NotEqual(t, first, second)
	require.Equal(t, 2, r.Len())

	s, ok := r.Get(first)
	require.True(t, ok)
	require.NotNil(t, s)

	require.NoError(t, r.Remove(first))
	_, ok = r.Get(first)
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	// The removed storage was closed.
	now := types.Timestamp(1)
	stored, err := s.Put([]byte("s"), []byte("k"), []byte("v"), now, 1000, true)
	require.NoError(t, err)
	require.False(t, stored)

	// Removing twice is a no-op.
	require.NoError(t, r.Remove(first))
}
