// Package walker implements the depth-first filesystem traversal feeding
// the backup pipeline: at each directory level it emits files
// highest-mtime-first so recently changed files are processed earliest,
// recurses into subdirectories in the same order, then emits a tombstone
// for every previously-recorded name that was not seen at this level.
package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
	"github.com/marcusklaas/backbonzo-go/internal/catalog"
)

// PathMessage is the single message type sent on the walker's output
// channel: a file to back up, a tombstone for a vanished name, or a
// terminal Err for the walker's own I/O failures.
type PathMessage struct {
	Err       error
	Tombstone bool

	Dir  catalog.DirectoryID
	Name string

	// FullPath and MTime are only meaningful when Tombstone is false.
	FullPath string
	MTime    int64 // unix milliseconds
}

// directoryCatalog is the subset of *catalog.Catalog the walker needs: a
// lazy lookup-or-insert for directories, and the set of names previously
// recorded at a directory so deletions can be detected. Both run against
// the single writer connection (see catalog.Catalog) — safe to call from
// the walker goroutine because database/sql serializes against a
// MaxOpenConns(1) pool, and the walker never races a concurrent writer
// transaction for the same row (it runs strictly ahead of file processing).
type directoryCatalog interface {
	GetDirectory(parent catalog.DirectoryID, name string) (catalog.DirectoryID, error)
	GetDirectoryFilenames(dir catalog.DirectoryID) (map[string]bool, error)
}

// Walk traverses root and sends one PathMessage per file and per detected
// deletion on out, then closes out. It runs on the caller's goroutine — the
// pipeline driver is expected to `go walker.Walk(...)`. On any I/O error the
// error is sent once (as PathMessage{Err: err}) and Walk returns. Honors
// ctx: once cancelled, any blocked or future send is abandoned and Walk
// returns without completing the remaining traversal.
func Walk(ctx context.Context, root string, cat directoryCatalog, out chan<- PathMessage) {
	defer close(out)

	if err := walkDir(ctx, root, catalog.Root, cat, out); err != nil {
		select {
		case out <- PathMessage{Err: err}:
		case <-ctx.Done():
		}
	}
}

type entry struct {
	name  string
	path  string
	mtime int64
	isDir bool
}

func walkDir(ctx context.Context, dirPath string, dirID catalog.DirectoryID, cat directoryCatalog, out chan<- PathMessage) error {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return bonzoerr.IOErr("read directory "+dirPath, err)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			return bonzoerr.IOErr("stat "+filepath.Join(dirPath, de.Name()), err)
		}
		entries = append(entries, entry{
			name:  de.Name(),
			path:  filepath.Join(dirPath, de.Name()),
			mtime: info.ModTime().UnixMilli(),
			isDir: info.IsDir(),
		})
	}

	// descending mtime: most recently changed entries are processed first
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	deletedNames, err := cat.GetDirectoryFilenames(dirID)
	if err != nil {
		return err
	}

	// Pass 1: emit every file at this level, highest mtime first.
	for _, e := range entries {
		if e.isDir {
			continue
		}
		delete(deletedNames, e.name)

		msg := PathMessage{Dir: dirID, Name: e.name, FullPath: e.path, MTime: e.mtime}
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}

	// Pass 2: recurse into subdirectories, same mtime order.
	for _, e := range entries {
		if !e.isDir {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		childID, err := cat.GetDirectory(dirID, e.name)
		if err != nil {
			return err
		}
		if err := walkDir(ctx, e.path, childID, cat, out); err != nil {
			return err
		}
	}

	// Names previously recorded at this directory but not seen in pass 1
	// have been deleted; tombstone them now that the level is exhausted.
	for name := range deletedNames {
		select {
		case out <- PathMessage{Dir: dirID, Name: name, Tombstone: true}:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}
