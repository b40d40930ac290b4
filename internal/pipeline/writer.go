package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
)

// Summary reports what one backup run accomplished. Blocks, ObjectBytes
// and SourceBytes only count blocks the at-most-once publish actually
// created; deduped blocks contribute nothing.
type Summary struct {
	Files       int
	Blocks      int
	ObjectBytes int64
	SourceBytes int64
	Errors      []error
	Timeout     bool
	Fatal       error
}

// runWriter is the single goroutine that owns the mutating catalog
// connection and the object store during backup. It drains in until the
// channel closes (all workers have exited) or a fatal condition cancels
// the run.
//
// Deadline handling: the writer checks the wall clock between
// instructions. Once it fires, cancel is called so the walker and workers
// abandon further sends on their next attempt; the writer itself keeps
// draining whatever is already buffered in the channel so no in-flight
// file is left half-committed, then returns once the channel closes.
// Deadline expiry is not an error: it is a successful partial run,
// recorded as Timeout on the summary.
func runWriter(ctx context.Context, cancel context.CancelFunc, cat *catalog.Catalog, store *objectstore.Store, in <-chan Instruction, sessionTimestamp int64, deadline time.Time, logger *slog.Logger) Summary {
	var summary Summary
	cancelled := false

	fail := func(err error) {
		summary.Fatal = err
		if !cancelled {
			cancelled = true
			cancel()
		}
	}

	for instr := range in {
		if !cancelled && !deadline.IsZero() && time.Now().After(deadline) {
			summary.Timeout = true
			cancelled = true
			cancel()
		}

		switch v := instr.(type) {
		case NewBlockInstr:
			created, err := handleNewBlock(cat, store, v)
			if err != nil {
				logger.Error("fatal error publishing block", "hash", v.Hash, "err", err)
				fail(err)
				continue
			}
			if created {
				summary.Blocks++
				summary.ObjectBytes += int64(len(v.CipherText))
				summary.SourceBytes += v.SourceBytes
			}

		case CompleteInstr:
			if err := handleComplete(cat, v); err != nil {
				logger.Error("fatal error persisting file", "name", v.Name, "err", err)
				fail(err)
				continue
			}
			summary.Files++

		case TombstoneInstr:
			if err := cat.PersistAlias(v.Dir, nil, v.Name, sessionTimestamp); err != nil {
				logger.Error("fatal error persisting tombstone", "name", v.Name, "err", err)
				fail(err)
				continue
			}

		case ErrorInstr:
			if bonzoerr.IsKind(v.Err, bonzoerr.Catalog) || bonzoerr.IsKind(v.Err, bonzoerr.Protocol) {
				logger.Error("fatal error from worker", "err", v.Err)
				fail(v.Err)
				continue
			}
			logger.Warn("per-file error", "err", v.Err)
			summary.Errors = append(summary.Errors, v.Err)
		}
	}

	return summary
}

// handleNewBlock is the at-most-once publish protocol: the object write is
// skipped if the name already exists (content-address collision means
// identical bytes), and the Block row is only inserted under
// PersistBlockIfAbsent's re-check transaction — the thing that keeps
// block.hash unique without a SQL unique constraint.
func handleNewBlock(cat *catalog.Catalog, store *objectstore.Store, v NewBlockInstr) (created bool, err error) {
	if !store.Exists(v.Hash) {
		if err := store.Put(v.Hash, v.CipherText); err != nil {
			return false, err
		}
	}
	_, created, err = cat.PersistBlockIfAbsent(v.Hash, v.IV)
	return created, err
}

// handleComplete persists a finished file: either a fresh File + ordered
// FileBlock sequence + Alias (one transaction, via PersistFile), or — when
// the worker found the whole-file hash already known — just a new Alias
// onto the existing File row.
func handleComplete(cat *catalog.Catalog, v CompleteInstr) error {
	if v.ExistingFileID != nil {
		return cat.PersistAlias(v.Dir, v.ExistingFileID, v.Name, v.MTime)
	}
	return cat.PersistFile(v.Dir, v.Name, v.FileHash, v.MTime, v.Refs)
}
