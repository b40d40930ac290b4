package chunk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/chunk"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestChunkBoundaries(t *testing.T) {
	path := writeTemp(t, []byte{0, 1, 2, 3, 4})

	r, err := chunk.Open(path, 2)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1}, first)

	second, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, second)

	third, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{4}, third)

	last, err := r.Next()
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestEmptyFileYieldsNoChunks(t *testing.T) {
	path := writeTemp(t, nil)

	r, err := chunk.Open(path, 1024)
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Next()
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestExactBlockSizeYieldsOneChunk(t *testing.T) {
	content := make([]byte, 16)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTemp(t, content)

	r, err := chunk.Open(path, 16)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, content, first)

	second, err := r.Next()
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestBlockSizePlusOneYieldsTwoChunks(t *testing.T) {
	content := make([]byte, 17)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTemp(t, content)

	r, err := chunk.Open(path, 16)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	require.Len(t, first, 16)

	second, err := r.Next()
	require.NoError(t, err)
	require.Len(t, second, 1)

	combined := append(append([]byte{}, first...), second...)
	require.Equal(t, content, combined)
}
