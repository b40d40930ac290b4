// Package pipeline implements the backup pipeline: one walker goroutine
// feeding a bounded path channel, K encoder worker goroutines turning
// paths into block/file instructions, and one writer goroutine serializing
// all catalog and object-store mutations. Blocking sends on the bounded
// channels provide backpressure end to end: when the writer falls behind,
// workers stall, which stalls the walker.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
	"github.com/marcusklaas/backbonzo-go/internal/walker"
)

// channelCapacity bounds both the path and instruction channels. Small on
// purpose: it bounds memory and limits wasted work after cancellation.
const channelCapacity = 16

// DefaultWorkerCount is the number of encoder worker goroutines used when
// the caller does not override it.
const DefaultWorkerCount = 4

// Run walks root, dedupes and encrypts its content against cat, and
// returns a Summary once the walk, all workers, and the writer have
// finished. sessionTimestamp (unix milliseconds) is recorded on tombstone
// aliases. A zero deadline means unbounded; workerCount <= 0 falls back to
// DefaultWorkerCount.
func Run(ctx context.Context, cat *catalog.Catalog, store *objectstore.Store, root string, blockSize, workerCount int, key []byte, sessionTimestamp int64, deadline time.Time, logger *slog.Logger) Summary {
	if logger == nil {
		logger = slog.Default()
	}
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pathCh := make(chan walker.PathMessage, channelCapacity)
	instrCh := make(chan Instruction, channelCapacity)

	go walker.Walk(runCtx, root, cat, pathCh)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			runWorker(runCtx, cat, blockSize, key, pathCh, instrCh)
		}()
	}

	// Only the producers may close the shared instruction channel; this
	// goroutine waits for every worker to finish sending before doing so,
	// which is what lets the writer's `for range instrCh` terminate.
	go func() {
		wg.Wait()
		close(instrCh)
	}()

	return runWriter(runCtx, cancel, cat, store, instrCh, sessionTimestamp, deadline, logger)
}
