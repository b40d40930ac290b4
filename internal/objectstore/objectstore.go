// Package objectstore implements the content-addressed block directory at
// the backup destination: one file per unique block, keyed by hex hash,
// written with atomic publish (write to a temp name, fsync, rename onto
// the final name).
package objectstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

// Store is a content-addressed directory rooted at a destination path.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the directory if absent.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, bonzoerr.IOErr("create object store root", err)
	}
	return &Store{root: root}, nil
}

// Path returns the on-disk path a block with hex hash h would be stored at:
// <root>/<h[0:2]>/<h>.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Exists reports whether the object for hash is already on disk.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Put atomically publishes bytes as the object for hash. If an object
// with this name already exists it is left untouched — by construction its
// content is identical, since the name is the content's hash.
func (s *Store) Put(hash string, bytes []byte) error {
	if s.Exists(hash) {
		return nil
	}

	dir := filepath.Join(s.root, hash[:2])
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return bonzoerr.IOErr("create prefix directory", err)
	}

	final := filepath.Join(dir, hash)
	return WriteFileAtomic(final+".tmp", final, bytes)
}

// WriteFileAtomic writes bytes to tmpPath, fsyncs, then renames onto
// finalPath, so a reader never observes a partial file. Exported so the
// restore engine can publish reconstructed files without duplicating the
// fsync-then-rename dance.
func WriteFileAtomic(tmpPath, finalPath string, bytes []byte) error {
	if err := writeAndFsync(tmpPath, bytes); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return bonzoerr.IOErr("rename into place", err)
	}

	return nil
}

// Get reads the raw ciphertext object for hash.
func (s *Store) Get(hash string) ([]byte, error) {
	bytes, err := os.ReadFile(s.Path(hash))
	if err != nil {
		return nil, bonzoerr.IOErr(fmt.Sprintf("read object %s", hash), err)
	}
	return bytes, nil
}

// PutIndex atomically publishes the encrypted catalog file under the root
// as "index-new" → "index".
func (s *Store) PutIndex(bytes []byte) error {
	newPath := filepath.Join(s.root, "index-new")
	finalPath := filepath.Join(s.root, "index")
	return WriteFileAtomic(newPath, finalPath, bytes)
}

// GetIndex reads the encrypted catalog file.
func (s *Store) GetIndex() ([]byte, error) {
	bytes, err := os.ReadFile(filepath.Join(s.root, "index"))
	if err != nil {
		return nil, bonzoerr.IOErr("read index", err)
	}
	return bytes, nil
}

// IndexExists reports whether a committed index file exists at the root.
func (s *Store) IndexExists() bool {
	_, err := os.Stat(filepath.Join(s.root, "index"))
	return err == nil
}

func writeAndFsync(path string, bytes []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return bonzoerr.IOErr("create temp object file", err)
	}

	if _, err := f.Write(bytes); err != nil {
		f.Close()
		return bonzoerr.IOErr("write temp object file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return bonzoerr.IOErr("fsync temp object file", err)
	}
	if err := f.Close(); err != nil {
		return bonzoerr.IOErr("close temp object file", err)
	}
	return nil
}
