// Package catalog owns the relational, transactional index behind the
// backup engine: directories, files, blocks, file↔block ordering, aliases,
// and settings. It is the schema and the fixed set of typed queries the
// backup pipeline and restore engine need — nothing more.
//
// Ownership: one *Catalog, constructed over a single mutating connection,
// is held exclusively by the writer goroutine during backup and by the
// restore engine during restore. Workers never mutate; they call the
// read-only methods, which run against a separate connection pool so
// concurrent readers never block on the writer's in-flight transaction.
package catalog

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

// DirectoryID identifies a row in the directory table. The zero value
// (Root) represents the unparented root directory; every other directory
// carries a concrete row id.
type DirectoryID struct {
	Valid bool
	ID    int64
}

// Root is the top-level directory: no parent_id.
var Root = DirectoryID{}

// Child wraps a concrete directory row id.
func Child(id int64) DirectoryID { return DirectoryID{Valid: true, ID: id} }

func (d DirectoryID) nullable() sql.NullInt64 {
	return sql.NullInt64{Int64: d.ID, Valid: d.Valid}
}

// Catalog is a single catalog connection plus the queries the pipeline and
// restore engine are allowed to perform against it.
type Catalog struct {
	write *sql.DB // exclusive: only the writer or restore engine touches this
	read  *sql.DB // shared: workers issue read-only queries concurrently
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS directory (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER,
	name      TEXT NOT NULL,
	FOREIGN KEY(parent_id) REFERENCES directory(id),
	UNIQUE(parent_id, name)
);
CREATE TABLE IF NOT EXISTS file (
	id   INTEGER PRIMARY KEY,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS file_hash_index ON file (hash);
CREATE TABLE IF NOT EXISTS block (
	id     INTEGER PRIMARY KEY,
	hash   TEXT NOT NULL,
	iv_hex TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS block_hash_index ON block (hash);
CREATE TABLE IF NOT EXISTS fileblock (
	id       INTEGER PRIMARY KEY,
	file_id  INTEGER NOT NULL,
	ordinal  INTEGER NOT NULL,
	block_id INTEGER NOT NULL,
	FOREIGN KEY(file_id) REFERENCES file(id),
	FOREIGN KEY(block_id) REFERENCES block(id),
	UNIQUE(file_id, ordinal)
);
CREATE TABLE IF NOT EXISTS alias (
	id           INTEGER PRIMARY KEY,
	directory_id INTEGER,
	file_id      INTEGER,
	name         TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	FOREIGN KEY(directory_id) REFERENCES directory(id),
	FOREIGN KEY(file_id) REFERENCES file(id)
);
CREATE INDEX IF NOT EXISTS alias_lookup_index ON alias (directory_id, name);
CREATE TABLE IF NOT EXISTS setting (
	key   TEXT PRIMARY KEY,
	value TEXT
);
`

// Create opens a brand-new catalog at path and runs the schema DDL. It
// fails if path already exists so init can never clobber a live catalog.
func Create(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, bonzoerr.CatalogErr("catalog already exists", fmt.Errorf("%s", path))
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	write, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, bonzoerr.CatalogErr("open catalog", err)
	}
	write.SetMaxOpenConns(1) // single writer

	if _, err := write.Exec(schemaDDL); err != nil {
		write.Close()
		return nil, bonzoerr.CatalogErr("apply schema", err)
	}

	read, err := sql.Open("sqlite3", dsn)
	if err != nil {
		write.Close()
		return nil, bonzoerr.CatalogErr("open read pool", err)
	}

	return &Catalog{write: write, read: read}, nil
}

// Open attaches to an existing catalog file without running the schema DDL.
// The file must already exist: SQLite would otherwise create an empty
// database on first use and defer the failure to the first query.
func Open(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, bonzoerr.CatalogErr("unable to open database file", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	write, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, bonzoerr.CatalogErr("open catalog", err)
	}
	write.SetMaxOpenConns(1)

	// Fail fast if the file isn't a usable database rather than deferring
	// the error to the first query.
	if err := write.Ping(); err != nil {
		write.Close()
		return nil, bonzoerr.CatalogErr("unable to open database file", err)
	}

	read, err := sql.Open("sqlite3", dsn)
	if err != nil {
		write.Close()
		return nil, bonzoerr.CatalogErr("open read pool", err)
	}

	return &Catalog{write: write, read: read}, nil
}

// Close releases both the write and read connections.
func (c *Catalog) Close() error {
	err1 := c.write.Close()
	err2 := c.read.Close()
	if err1 != nil {
		return bonzoerr.CatalogErr("close catalog", err1)
	}
	if err2 != nil {
		return bonzoerr.CatalogErr("close read pool", err2)
	}
	return nil
}
