package compress_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/compress"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	plaintext := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200))

	compressed, err := compress.CompressBlock(plaintext)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(plaintext))

	got, err := compress.DecompressBlock(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, got))
}

func TestCompressEmptyInput(t *testing.T) {
	compressed, err := compress.CompressBlock(nil)
	require.NoError(t, err)

	got, err := compress.DecompressBlock(compressed)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := compress.DecompressBlock([]byte("not a bzip2 stream"))
	require.Error(t, err)
}
