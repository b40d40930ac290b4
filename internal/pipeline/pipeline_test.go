package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/crypto"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
	"github.com/marcusklaas/backbonzo-go/internal/pipeline"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Create(filepath.Join(t.TempDir(), "index.db3"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestPipelineSaturatesChannelsWithoutDeadlock pushes 48 tiny distinct
// files — three times the channel capacity — through the pipeline; all of
// them must flow through without the walker/worker/writer goroutines
// deadlocking on a full channel.
func TestPipelineSaturatesChannelsWithoutDeadlock(t *testing.T) {
	root := t.TempDir()
	const fileCount = 48
	for i := 0; i < fileCount; i++ {
		content := fmt.Sprintf("distinct content for file number %d", i)
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%02d.txt", i)), []byte(content), 0o600))
	}

	cat := newTestCatalog(t)
	store, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	key := crypto.DeriveKey("s4-password")

	done := make(chan pipeline.Summary, 1)
	go func() {
		done <- pipeline.Run(context.Background(), cat, store, root, 1<<20, pipeline.DefaultWorkerCount, key, 1000, time.Time{}, nil)
	}()

	select {
	case summary := <-done:
		require.Equal(t, fileCount, summary.Files)
		require.Equal(t, fileCount, summary.Blocks)
		require.Nil(t, summary.Fatal)
		require.Empty(t, summary.Errors)
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline run deadlocked")
	}
}

// TestPipelineDedupesIdenticalContent exercises the at-most-once publish
// path: two files with byte-identical content must produce exactly one
// Block row and one underlying object, but two distinct File/Alias rows'
// worth of bookkeeping (surfaced here via summary.Blocks staying at 1 while
// summary.Files reaches 2).
func TestPipelineDedupesIdenticalContent(t *testing.T) {
	root := t.TempDir()
	payload := []byte("identical payload shared by two files")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), payload, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), payload, 0o600))

	cat := newTestCatalog(t)
	store, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	key := crypto.DeriveKey("dedup-password")
	summary := pipeline.Run(context.Background(), cat, store, root, 1<<20, 2, key, 1000, time.Time{}, nil)

	require.Nil(t, summary.Fatal)
	require.Equal(t, 2, summary.Files)
	require.Equal(t, 1, summary.Blocks)
}

func TestPipelineDeadlineStopsRunEarly(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("content %d", i)
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.txt", i)), []byte(content), 0o600))
	}

	cat := newTestCatalog(t)
	store, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	key := crypto.DeriveKey("deadline-password")
	past := time.Now().Add(-time.Hour)

	done := make(chan pipeline.Summary, 1)
	go func() {
		done <- pipeline.Run(context.Background(), cat, store, root, 1<<20, 2, key, 1000, past, nil)
	}()

	select {
	case summary := <-done:
		require.True(t, summary.Timeout)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline run did not honor an already-past deadline")
	}
}
