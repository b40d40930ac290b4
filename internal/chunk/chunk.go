// Package chunk presents a file as a lazy sequence of fixed-size byte
// slices, reusing one buffer across calls.
package chunk

import (
	"io"
	"os"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

// Reader yields successive chunks of a file, each at most Size() bytes. The
// slice returned by Next is only valid until the next call to Next or
// Close — callers that need the bytes to outlive that must copy them.
type Reader struct {
	file   *os.File
	buffer []byte
}

// Open opens path and returns a Reader that yields chunks of at most
// chunkSize bytes. Empty files yield zero chunks.
func Open(path string, chunkSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bonzoerr.IOErr("open "+path, err)
	}
	return &Reader{file: f, buffer: make([]byte, chunkSize)}, nil
}

// Next returns the next chunk, or (nil, nil) at EOF. A non-nil error is an
// I/O failure distinct from end-of-file.
func (r *Reader) Next() ([]byte, error) {
	n, err := r.file.Read(r.buffer)
	if n > 0 {
		return r.buffer[:n], nil
	}
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, bonzoerr.IOErr("read chunk", err)
	}
	return nil, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
