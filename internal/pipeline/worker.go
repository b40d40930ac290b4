package pipeline

import (
	"context"
	"crypto/rand"

	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/chunk"
	"github.com/marcusklaas/backbonzo-go/internal/compress"
	"github.com/marcusklaas/backbonzo-go/internal/crypto"
	"github.com/marcusklaas/backbonzo-go/internal/walker"
)

// ivSize is the AES-CBC IV length; every block gets a fresh one.
const ivSize = 16

// Reader is the read-only subset of *catalog.Catalog an encoder worker is
// allowed to touch. These three lookups run against the catalog's
// dedicated read connection pool and are safe under a concurrent writer
// transaction; all mutation stays with the writer goroutine.
type Reader interface {
	AliasKnown(dir catalog.DirectoryID, name string, lastModified int64) (bool, error)
	FileFromHash(hash string) (id int64, found bool, err error)
	BlockIDFromHash(hash string) (id int64, found bool, err error)
}

// runWorker drains path messages from in and turns each into zero or more
// Instructions on out, until in closes or ctx is cancelled. One goroutine
// per encoder worker; the writer's fan-in is just Go's ordinary
// multiple-producer channel semantics, no extra merging step needed.
func runWorker(ctx context.Context, r Reader, blockSize int, key []byte, in <-chan walker.PathMessage, out chan<- Instruction) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			handlePathMessage(ctx, r, blockSize, key, msg, out)
		case <-ctx.Done():
			return
		}
	}
}

func handlePathMessage(ctx context.Context, r Reader, blockSize int, key []byte, msg walker.PathMessage, out chan<- Instruction) {
	if msg.Err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: msg.Err})
		return
	}
	if msg.Tombstone {
		sendInstr(ctx, out, TombstoneInstr{Dir: msg.Dir, Name: msg.Name})
		return
	}
	processFile(ctx, r, blockSize, key, msg, out)
}

// processFile runs the per-file algorithm: skip if the alias is fresh,
// dedup on whole-file hash, otherwise chunk/dedup/encrypt block by block
// and finish with a CompleteInstr carrying every chunk's ref in order.
func processFile(ctx context.Context, r Reader, blockSize int, key []byte, msg walker.PathMessage, out chan<- Instruction) {
	known, err := r.AliasKnown(msg.Dir, msg.Name, msg.MTime)
	if err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return
	}
	if known {
		return
	}

	fileHash, err := crypto.HashFile(msg.FullPath)
	if err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return
	}

	if fileID, found, err := r.FileFromHash(fileHash); err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return
	} else if found {
		id := fileID
		sendInstr(ctx, out, CompleteInstr{
			Dir: msg.Dir, Name: msg.Name, FileHash: fileHash, MTime: msg.MTime,
			ExistingFileID: &id,
		})
		return
	}

	reader, err := chunk.Open(msg.FullPath, blockSize)
	if err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return
	}
	defer reader.Close()

	var refs []catalog.BlockRef
	for {
		slice, err := reader.Next()
		if err != nil {
			sendInstr(ctx, out, ErrorInstr{Err: err})
			return
		}
		if slice == nil {
			break
		}

		ref, ok := exportBlock(ctx, r, key, slice, out)
		if !ok {
			return
		}
		refs = append(refs, ref)
	}

	if !sendInstr(ctx, out, CompleteInstr{Dir: msg.Dir, Name: msg.Name, FileHash: fileHash, MTime: msg.MTime, Refs: refs}) {
		return
	}
}

// exportBlock returns the id of block's hash when already known, otherwise
// compresses, encrypts, and sends it as a NewBlockInstr and returns a
// by-hash reference. The bool result is false only when the send was
// abandoned due to cancellation, signalling the caller to stop processing
// this file.
func exportBlock(ctx context.Context, r Reader, key, block []byte, out chan<- Instruction) (catalog.BlockRef, bool) {
	hash := crypto.HashBlock(block)

	if id, found, err := r.BlockIDFromHash(hash); err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return catalog.BlockRef{}, false
	} else if found {
		return catalog.RefByID(id), true
	}

	// chunk.Reader reuses one buffer across calls; copy before this block
	// outlives the next Next() call via compression/encryption/channel send.
	plaintext := make([]byte, len(block))
	copy(plaintext, block)

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return catalog.BlockRef{}, false
	}

	compressed, err := compress.CompressBlock(plaintext)
	if err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return catalog.BlockRef{}, false
	}

	ciphertext, err := crypto.EncryptBlock(compressed, key, iv)
	if err != nil {
		sendInstr(ctx, out, ErrorInstr{Err: err})
		return catalog.BlockRef{}, false
	}

	if !sendInstr(ctx, out, NewBlockInstr{CipherText: ciphertext, IV: iv, Hash: hash, SourceBytes: int64(len(plaintext))}) {
		return catalog.BlockRef{}, false
	}

	return catalog.RefByHash(hash), true
}

func sendInstr(ctx context.Context, out chan<- Instruction, instr Instruction) bool {
	select {
	case out <- instr:
		return true
	case <-ctx.Done():
		return false
	}
}
