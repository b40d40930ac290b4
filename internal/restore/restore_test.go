package restore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/crypto"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
	"github.com/marcusklaas/backbonzo-go/internal/pipeline"
	"github.com/marcusklaas/backbonzo-go/internal/restore"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Create(filepath.Join(t.TempDir(), "index.db3"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRestoreRoundTripsFileContent(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hello, world"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(src, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested content"), 0o600))

	cat := newTestCatalog(t)
	store, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)

	key := crypto.DeriveKey("restore-password")
	sessionTimestamp := time.Now().UnixMilli()
	summary := pipeline.Run(context.Background(), cat, store, src, 1<<20, 2, key, sessionTimestamp, time.Time{}, nil)
	require.Nil(t, summary.Fatal)
	require.Equal(t, 2, summary.Files)

	out := t.TempDir()
	restoreSummary, err := restore.Restore(cat, store, out, time.Now().Add(time.Minute).UnixMilli(), key)
	require.NoError(t, err)
	require.Equal(t, 2, restoreSummary.Files)

	gotHello, err := os.ReadFile(filepath.Join(out, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(gotHello))

	gotNested, err := os.ReadFile(filepath.Join(out, "sub", "nested.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested content", string(gotNested))
}

// A file present in an earlier snapshot must still restore at that
// timestamp, and must be absent from a snapshot taken after it was
// deleted.
//
// The file's own alias row is timestamped with its on-disk mtime, while a
// tombstone's timestamp is the session's wall-clock time, so the three
// query timestamps here are pinned relative to a controlled mtime rather
// than arbitrary small integers.
func TestRestoreReflectsDeletionAcrossTimestamps(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("will be deleted"), 0o600))

	fileMTime := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, fileMTime, fileMTime))

	cat := newTestCatalog(t)
	store, err := objectstore.Open(t.TempDir())
	require.NoError(t, err)
	key := crypto.DeriveKey("deletion-password")

	firstSessionTimestamp := fileMTime.Add(time.Minute).UnixMilli()
	firstSummary := pipeline.Run(context.Background(), cat, store, src, 1<<20, 2, key, firstSessionTimestamp, time.Time{}, nil)
	require.Nil(t, firstSummary.Fatal)
	require.Equal(t, 1, firstSummary.Files)

	require.NoError(t, os.Remove(path))
	secondSessionTimestamp := fileMTime.Add(2 * time.Minute).UnixMilli()
	secondSummary := pipeline.Run(context.Background(), cat, store, src, 1<<20, 2, key, secondSessionTimestamp, time.Time{}, nil)
	require.Nil(t, secondSummary.Fatal)

	beforeDeletion, err := restore.Restore(cat, store, t.TempDir(), fileMTime.Add(90*time.Second).UnixMilli(), key)
	require.NoError(t, err)
	require.Equal(t, 1, beforeDeletion.Files)

	afterDeletion, err := restore.Restore(cat, store, t.TempDir(), fileMTime.Add(3*time.Minute).UnixMilli(), key)
	require.NoError(t, err)
	require.Equal(t, 0, afterDeletion.Files)
}
