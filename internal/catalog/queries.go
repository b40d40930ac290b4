package catalog

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"path"
	"strings"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

// BlockRef names a block a file references either by an id already known
// in this session (ById) or by content hash for a block that was just
// minted and has not been resolved to an id yet (ByHash). The writer must
// resolve every ByHash entry before persisting the file — see PersistFile.
type BlockRef struct {
	hash string
	id   int64
	isID bool
}

// RefByID builds a BlockRef for a block whose id is already known.
func RefByID(id int64) BlockRef { return BlockRef{id: id, isID: true} }

// RefByHash builds a BlockRef for a block identified only by content hash,
// resolved to an id inside PersistFile's transaction.
func RefByHash(hash string) BlockRef { return BlockRef{hash: hash} }

// AliasKnown reports whether there exists an alias for (dir, name) whose
// timestamp is at or after lastModified — i.e. the file has not changed
// since it was last recorded.
func (c *Catalog) AliasKnown(dir DirectoryID, name string, lastModified int64) (bool, error) {
	var count int64
	var err error
	if dir.Valid {
		err = c.read.QueryRow(
			`SELECT COUNT(id) FROM alias WHERE directory_id = ? AND name = ? AND timestamp >= ?`,
			dir.ID, name, lastModified,
		).Scan(&count)
	} else {
		err = c.read.QueryRow(
			`SELECT COUNT(id) FROM alias WHERE directory_id IS NULL AND name = ? AND timestamp >= ?`,
			name, lastModified,
		).Scan(&count)
	}
	if err != nil {
		return false, bonzoerr.CatalogErr("alias_known", err)
	}
	return count > 0, nil
}

// FileFromHash returns the id of the File row with the given whole-file
// hash, if one exists.
func (c *Catalog) FileFromHash(hash string) (id int64, found bool, err error) {
	err = c.read.QueryRow(`SELECT id FROM file WHERE hash = ? LIMIT 1`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, bonzoerr.CatalogErr("file_from_hash", err)
	}
	return id, true, nil
}

// BlockIDFromHash returns the id of the Block row with the given content
// hash, if one exists. Uses LIMIT 1 with explicit ordering so that a
// duplicate hash row, should one ever appear, yields the oldest id
// deterministically instead of a garbage aggregate.
func (c *Catalog) BlockIDFromHash(hash string) (id int64, found bool, err error) {
	return blockIDFromHash(c.read, hash)
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers run
// either standalone or inside the writer's transaction (the at-most-once
// publish re-check needs the latter).
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func blockIDFromHash(q querier, hash string) (id int64, found bool, err error) {
	err = q.QueryRow(`SELECT id FROM block WHERE hash = ? ORDER BY id ASC LIMIT 1`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, bonzoerr.CatalogErr("block_id_from_hash", err)
	}
	return id, true, nil
}

// PersistBlockIfAbsent is the writer's at-most-once publish protocol:
// under a single short transaction it re-checks BlockIDFromHash — another
// worker may have raced between the worker's optimistic read and this
// call — and only inserts a new Block row if still absent. This is what
// keeps block.hash unique without a unique SQL constraint.
func (c *Catalog) PersistBlockIfAbsent(hash string, iv []byte) (id int64, created bool, err error) {
	tx, err := c.write.Begin()
	if err != nil {
		return 0, false, bonzoerr.CatalogErr("begin persist_block", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if id, found, err := blockIDFromHash(tx, hash); err != nil {
		return 0, false, err
	} else if found {
		return id, false, nil
	}

	res, err := tx.Exec(`INSERT INTO block (hash, iv_hex) VALUES (?, ?)`, hash, hex.EncodeToString(iv))
	if err != nil {
		return 0, false, bonzoerr.CatalogErr("persist_block", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, bonzoerr.CatalogErr("persist_block", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, bonzoerr.CatalogErr("commit persist_block", err)
	}
	return id, true, nil
}

// BlockByID returns the content hash and IV (raw bytes) of a block.
func (c *Catalog) BlockByID(id int64) (hash string, iv []byte, err error) {
	var ivHex string
	err = c.read.QueryRow(`SELECT hash, iv_hex FROM block WHERE id = ?`, id).Scan(&hash, &ivHex)
	if err != nil {
		return "", nil, bonzoerr.CatalogErr("block_from_id", err)
	}
	iv, err = hex.DecodeString(ivHex)
	if err != nil {
		return "", nil, bonzoerr.Newf("couldn't parse hex iv for block %d", id)
	}
	return hash, iv, nil
}

// PersistFile inserts the File row, its full ordered FileBlock sequence,
// and the Alias row in one transaction. Every ByHash entry in refs must
// already have a corresponding Block row — if one does not resolve, that
// is a Protocol-kind error: a worker ordering bug, always fatal.
func (c *Catalog) PersistFile(dir DirectoryID, name, fileHash string, lastModified int64, refs []BlockRef) error {
	tx, err := c.write.Begin()
	if err != nil {
		return bonzoerr.CatalogErr("begin persist_file", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`INSERT INTO file (hash) VALUES (?)`, fileHash)
	if err != nil {
		return bonzoerr.CatalogErr("insert file", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return bonzoerr.CatalogErr("insert file", err)
	}

	for ordinal, ref := range refs {
		blockID := ref.id
		if !ref.isID {
			id, found, err := blockIDFromHash(tx, ref.hash)
			if err != nil {
				return err
			}
			if !found {
				return bonzoerr.ProtocolErr("block reference by hash " + ref.hash + " did not resolve at complete time")
			}
			blockID = id
		}

		if _, err := tx.Exec(
			`INSERT INTO fileblock (file_id, block_id, ordinal) VALUES (?, ?, ?)`,
			fileID, blockID, ordinal,
		); err != nil {
			return bonzoerr.CatalogErr("insert fileblock", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO alias (directory_id, file_id, name, timestamp) VALUES (?, ?, ?, ?)`,
		dir.nullable(), fileID, name, lastModified,
	); err != nil {
		return bonzoerr.CatalogErr("insert alias", err)
	}

	if err := tx.Commit(); err != nil {
		return bonzoerr.CatalogErr("commit persist_file", err)
	}
	return nil
}

// PersistAlias records a new pointer from (dir, name) to fileID at
// timestamp, or — when fileID is nil — a tombstone marking that the name
// ceased to exist. Aliases are insert-only: a rename or deletion adds a
// row, never updates one.
func (c *Catalog) PersistAlias(dir DirectoryID, fileID *int64, name string, timestamp int64) error {
	var fid sql.NullInt64
	if fileID != nil {
		fid = sql.NullInt64{Int64: *fileID, Valid: true}
	}
	_, err := c.write.Exec(
		`INSERT INTO alias (directory_id, file_id, name, timestamp) VALUES (?, ?, ?, ?)`,
		dir.nullable(), fid, name, timestamp,
	)
	if err != nil {
		return bonzoerr.CatalogErr("persist_alias", err)
	}
	return nil
}

// GetDirectory looks up (parent, name) and inserts a new Directory row if
// absent. Directories are created lazily on first traversal and never
// deleted.
func (c *Catalog) GetDirectory(parent DirectoryID, name string) (DirectoryID, error) {
	var id int64
	var err error
	if parent.Valid {
		err = c.write.QueryRow(
			`SELECT id FROM directory WHERE parent_id = ? AND name = ?`, parent.ID, name,
		).Scan(&id)
	} else {
		err = c.write.QueryRow(
			`SELECT id FROM directory WHERE parent_id IS NULL AND name = ?`, name,
		).Scan(&id)
	}
	if err == nil {
		return Child(id), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return DirectoryID{}, bonzoerr.CatalogErr("get_directory lookup", err)
	}

	res, err := c.write.Exec(
		`INSERT INTO directory (parent_id, name) VALUES (?, ?)`, parent.nullable(), name,
	)
	if err != nil {
		return DirectoryID{}, bonzoerr.CatalogErr("get_directory insert", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return DirectoryID{}, bonzoerr.CatalogErr("get_directory insert", err)
	}
	return Child(newID), nil
}

// GetDirectoryFilenames returns the most recent non-tombstone alias name
// at each (dir, name) as of now — the walker uses this to detect which
// previously-seen names are no longer present on disk.
func (c *Catalog) GetDirectoryFilenames(dir DirectoryID) (map[string]bool, error) {
	var rows *sql.Rows
	var err error
	query := `
		SELECT name, file_id FROM (
			SELECT name, file_id,
				ROW_NUMBER() OVER (PARTITION BY name ORDER BY id DESC) AS rn
			FROM alias
			WHERE directory_id IS ?
		) WHERE rn = 1`

	if dir.Valid {
		rows, err = c.write.Query(query, dir.ID)
	} else {
		rows, err = c.write.Query(query, nil)
	}
	if err != nil {
		return nil, bonzoerr.CatalogErr("get_directory_filenames", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		var fileID sql.NullInt64
		if err := rows.Scan(&name, &fileID); err != nil {
			return nil, bonzoerr.CatalogErr("get_directory_filenames scan", err)
		}
		if fileID.Valid {
			names[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, bonzoerr.CatalogErr("get_directory_filenames rows", err)
	}
	return names, nil
}

// SetSetting writes a setting key once. Settings are insert-only: a key
// may be appended later but is never mutated, so this fails if key already
// exists.
func (c *Catalog) SetSetting(key, value string) error {
	_, err := c.write.Exec(`INSERT INTO setting (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return bonzoerr.CatalogErr("set_setting", err)
	}
	return nil
}

// GetSetting reads a setting value.
func (c *Catalog) GetSetting(key string) (value string, found bool, err error) {
	err = c.read.QueryRow(`SELECT value FROM setting WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, bonzoerr.CatalogErr("get_setting", err)
	}
	return value, true, nil
}

// Snapshot is one materialized (path, ordered block ids) tuple as it
// existed at a queried timestamp.
type Snapshot struct {
	Path     string
	FileHash string
	BlockIDs []int64
}

// AliasesAt materializes the snapshot as of timestamp t: for each
// (directory, name), the alias with the greatest id whose timestamp is
// at-or-before t determines that name's state; tombstones (file_id NULL)
// are excluded. One window-function query over alias plus the directory
// parent chains kept in memory — no recursion in SQL or Go needed.
func (c *Catalog) AliasesAt(t int64) ([]Snapshot, error) {
	dirNames, dirParents, err := c.loadDirectoryTree()
	if err != nil {
		return nil, err
	}

	rows, err := c.read.Query(`
		SELECT directory_id, file_id, name FROM (
			SELECT directory_id, file_id, name,
				ROW_NUMBER() OVER (PARTITION BY directory_id, name ORDER BY id DESC) AS rn
			FROM alias
			WHERE timestamp <= ?
		) WHERE rn = 1 AND file_id IS NOT NULL`, t)
	if err != nil {
		return nil, bonzoerr.CatalogErr("aliases_at", err)
	}
	defer rows.Close()

	type hit struct {
		dirID  sql.NullInt64
		fileID int64
		name   string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.dirID, &h.fileID, &h.name); err != nil {
			return nil, bonzoerr.CatalogErr("aliases_at scan", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, bonzoerr.CatalogErr("aliases_at rows", err)
	}

	snapshots := make([]Snapshot, 0, len(hits))
	for _, h := range hits {
		fullPath := buildPath(h.dirID, h.name, dirNames, dirParents)

		fileHash, err := c.fileHashByID(h.fileID)
		if err != nil {
			return nil, err
		}

		blockIDs, err := c.fileBlockIDs(h.fileID)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, Snapshot{Path: fullPath, FileHash: fileHash, BlockIDs: blockIDs})
	}

	return snapshots, nil
}

func (c *Catalog) loadDirectoryTree() (names map[int64]string, parents map[int64]sql.NullInt64, err error) {
	rows, err := c.read.Query(`SELECT id, parent_id, name FROM directory`)
	if err != nil {
		return nil, nil, bonzoerr.CatalogErr("load directory tree", err)
	}
	defer rows.Close()

	names = make(map[int64]string)
	parents = make(map[int64]sql.NullInt64)
	for rows.Next() {
		var id int64
		var parentID sql.NullInt64
		var name string
		if err := rows.Scan(&id, &parentID, &name); err != nil {
			return nil, nil, bonzoerr.CatalogErr("load directory tree scan", err)
		}
		names[id] = name
		parents[id] = parentID
	}
	if err := rows.Err(); err != nil {
		return nil, nil, bonzoerr.CatalogErr("load directory tree rows", err)
	}
	return names, parents, nil
}

func buildPath(dirID sql.NullInt64, leaf string, names map[int64]string, parents map[int64]sql.NullInt64) string {
	var segments []string
	cur := dirID
	for cur.Valid {
		segments = append(segments, names[cur.Int64])
		cur = parents[cur.Int64]
	}
	// segments were collected leaf-directory-first; reverse to root-first.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	segments = append(segments, leaf)
	return path.Join(strings.Join(segments, "/"))
}

func (c *Catalog) fileHashByID(id int64) (string, error) {
	var hash string
	if err := c.read.QueryRow(`SELECT hash FROM file WHERE id = ?`, id).Scan(&hash); err != nil {
		return "", bonzoerr.CatalogErr("file hash lookup", err)
	}
	return hash, nil
}

func (c *Catalog) fileBlockIDs(fileID int64) ([]int64, error) {
	rows, err := c.read.Query(`SELECT block_id FROM fileblock WHERE file_id = ? ORDER BY ordinal ASC`, fileID)
	if err != nil {
		return nil, bonzoerr.CatalogErr("fileblock lookup", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, bonzoerr.CatalogErr("fileblock scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, bonzoerr.CatalogErr("fileblock rows", err)
	}
	return ids, nil
}
