package token

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	require.Empty(t, s.Get())

	s.Set("abc123")
	require.Equal(t, "abc123", s.Get())

	s.Clear()
	require.Empty(t, s.Get())
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	s := NewFileStore(path)
	require.Empty(t, s.Get())

	s.Set("abc123")
	require.Equal(t, "abc123", s.Get())

	// A fresh store over the same path sees the persisted token.
	s2 := NewFileStore(path)
	require.Equal(t, "abc123", s2.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc123\n", string(data))

	s2.Clear()
	require.Empty(t, s2.Get())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreMissingFileIsNotAnError(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Empty(t, s.Get())
	s.Clear()
	require.Empty(t, s.Get())
}
