// Package compress wraps the bzip2 codec used for every stored block. The
// standard library's compress/bzip2 is decode-only, so the writer side
// comes from github.com/dsnet/compress.
package compress

import (
	"bytes"
	"io"

	"github.com/dsnet/compress/bzip2"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

// CompressBlock bzip2-compresses plaintext at the best available ratio.
func CompressBlock(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer

	// Level 9 is the maximum block size / best ratio setting.
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 9})
	if err != nil {
		return nil, bonzoerr.IOErr("bzip2 writer init", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, bonzoerr.IOErr("bzip2 compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, bonzoerr.IOErr("bzip2 finalize", err)
	}

	return buf.Bytes(), nil
}

// DecompressBlock reverses CompressBlock.
func DecompressBlock(compressed []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(compressed), nil)
	if err != nil {
		return nil, bonzoerr.IOErr("bzip2 reader init", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, bonzoerr.IOErr("bzip2 decompress", err)
	}
	return out, nil
}
