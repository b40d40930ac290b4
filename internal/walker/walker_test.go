package walker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/walker"
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Create(filepath.Join(t.TempDir(), "index.db3"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFileWithMtime(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func drain(out <-chan walker.PathMessage) []walker.PathMessage {
	var msgs []walker.PathMessage
	for m := range out {
		msgs = append(msgs, m)
	}
	return msgs
}

func TestWalkEmitsFilesMtimeDescending(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFileWithMtime(t, root, "oldest", base)
	writeFileWithMtime(t, root, "middle", base.Add(10*time.Minute))
	writeFileWithMtime(t, root, "newest", base.Add(20*time.Minute))

	cat := newCatalog(t)
	out := make(chan walker.PathMessage, 16)
	walker.Walk(context.Background(), root, cat, out)

	msgs := drain(out)
	require.Len(t, msgs, 3)
	require.Equal(t, "newest", msgs[0].Name)
	require.Equal(t, "middle", msgs[1].Name)
	require.Equal(t, "oldest", msgs[2].Name)
}

func TestWalkRecursesIntoSubdirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o750))
	writeFileWithMtime(t, root, "top.txt", time.Now())
	writeFileWithMtime(t, filepath.Join(root, "sub"), "nested.txt", time.Now())

	cat := newCatalog(t)
	out := make(chan walker.PathMessage, 16)
	walker.Walk(context.Background(), root, cat, out)

	msgs := drain(out)
	names := map[string]bool{}
	for _, m := range msgs {
		names[m.Name] = true
	}
	require.True(t, names["top.txt"])
	require.True(t, names["nested.txt"])

	for _, m := range msgs {
		if m.Name == "nested.txt" {
			require.True(t, m.Dir.Valid)
		}
	}
}

func TestWalkEmitsTombstoneForRemovedName(t *testing.T) {
	root := t.TempDir()
	cat := newCatalog(t)

	blockID, _, err := cat.PersistBlockIfAbsent("h1", make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, cat.PersistFile(catalog.Root, "gone.txt", "fh", 1, []catalog.BlockRef{catalog.RefByID(blockID)}))

	out := make(chan walker.PathMessage, 16)
	walker.Walk(context.Background(), root, cat, out)

	msgs := drain(out)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Tombstone)
	require.Equal(t, "gone.txt", msgs[0].Name)
}

func TestWalkDoesNotTombstoneStillPresentFile(t *testing.T) {
	root := t.TempDir()
	cat := newCatalog(t)

	blockID, _, err := cat.PersistBlockIfAbsent("h1", make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, cat.PersistFile(catalog.Root, "stays.txt", "fh", 1, []catalog.BlockRef{catalog.RefByID(blockID)}))

	writeFileWithMtime(t, root, "stays.txt", time.Now())

	out := make(chan walker.PathMessage, 16)
	walker.Walk(context.Background(), root, cat, out)

	msgs := drain(out)
	require.Len(t, msgs, 1)
	require.False(t, msgs[0].Tombstone)
	require.Equal(t, "stays.txt", msgs[0].Name)
}

func TestWalkReportsIOErrorOnMissingRoot(t *testing.T) {
	cat := newCatalog(t)
	out := make(chan walker.PathMessage, 16)
	walker.Walk(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), cat, out)

	msgs := drain(out)
	require.Len(t, msgs, 1)
	require.Error(t, msgs[0].Err)
}
