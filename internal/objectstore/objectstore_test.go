package objectstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
)

func TestPutThenGetRoundTrip(t *testing.T) {
	s, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	hash := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	require.NoError(t, s.Put(hash, []byte("ciphertext-bytes")))
	require.True(t, s.Exists(hash))

	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext-bytes"), got)
}

func TestPutIsIdempotentForIdenticalContent(t *testing.T) {
	s, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	hash := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778"
	require.NoError(t, s.Put(hash, []byte("v1")))
	require.NoError(t, s.Put(hash, []byte("v1")))

	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)
}

func TestPathUsesTwoCharPrefix(t *testing.T) {
	s, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	hash := "deadbeef00112233445566778899aabbccddeeff00112233445566778899aa"
	p := s.Path(hash)
	require.Equal(t, "de", filepath.Base(filepath.Dir(p)))
	require.Equal(t, hash, filepath.Base(p))
}

func TestNoLeftoverTempFileAfterPut(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.Open(root)
	require.NoError(t, err)

	hash := "0011223344556677889900112233445566778899001122334455667788990a"
	require.NoError(t, s.Put(hash, []byte("data")))

	entries, err := os.ReadDir(filepath.Join(root, hash[:2]))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, hash, entries[0].Name())
}

func TestIndexPublishRoundTrip(t *testing.T) {
	s, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	require.False(t, s.IndexExists())

	require.NoError(t, s.PutIndex([]byte("encrypted-catalog-bytes")))
	require.True(t, s.IndexExists())

	got, err := s.GetIndex()
	require.NoError(t, err)
	require.Equal(t, []byte("encrypted-catalog-bytes"), got)
}
