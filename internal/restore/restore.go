// Package restore implements the restore engine: given a timestamp,
// materialize the (path, ordered block list) tuples that existed at that
// instant, and reconstruct each file by decrypting and decompressing its
// blocks in order. Every reconstructed file is verified against the
// whole-file hash recorded at backup time before it is published.
package restore

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/compress"
	"github.com/marcusklaas/backbonzo-go/internal/crypto"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
)

// Summary reports what one restore run wrote. Bytes counts plaintext
// after decryption and decompression.
type Summary struct {
	Files  int
	Blocks int
	Bytes  int64
}

// Restore materializes the snapshot as of timestamp (unix milliseconds)
// from cat/store, decrypting with key, and writes the resulting tree under
// outRoot.
func Restore(cat *catalog.Catalog, store *objectstore.Store, outRoot string, timestamp int64, key []byte) (Summary, error) {
	snapshots, err := cat.AliasesAt(timestamp)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, snap := range snapshots {
		n, err := restoreFile(cat, store, outRoot, snap, key)
		if err != nil {
			return summary, err
		}
		summary.Files++
		summary.Blocks += len(snap.BlockIDs)
		summary.Bytes += n
	}

	return summary, nil
}

func restoreFile(cat *catalog.Catalog, store *objectstore.Store, outRoot string, snap catalog.Snapshot, key []byte) (int64, error) {
	var plaintext bytes.Buffer

	for _, blockID := range snap.BlockIDs {
		hash, iv, err := cat.BlockByID(blockID)
		if err != nil {
			return 0, err
		}

		ciphertext, err := store.Get(hash)
		if err != nil {
			return 0, err
		}

		compressed, err := crypto.DecryptBlock(ciphertext, key, iv)
		if err != nil {
			return 0, err
		}

		block, err := compress.DecompressBlock(compressed)
		if err != nil {
			return 0, err
		}

		plaintext.Write(block)
	}

	// hash_block and hash_file compute the same SHA-256-hex function over
	// different sources (a chunk vs. a streamed file); reused here rather
	// than re-implementing a third hashing helper for in-memory bytes.
	if got := crypto.HashBlock(plaintext.Bytes()); got != snap.FileHash {
		return 0, bonzoerr.Newf("restore mismatch for %s: expected hash %s, got %s", snap.Path, snap.FileHash, got)
	}

	dest := filepath.Join(outRoot, filepath.FromSlash(snap.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, bonzoerr.IOErr("create restore parent directory", err)
	}

	if err := objectstore.WriteFileAtomic(dest+".tmp", dest, plaintext.Bytes()); err != nil {
		return 0, err
	}

	return int64(plaintext.Len()), nil
}
