// Package session ties together the catalog, object store, crypto
// primitives, and backup pipeline into the three top-level operations:
// init, backup, restore. It owns the deadline and produces the run
// summary; everything else is a named collaborator.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
	"github.com/marcusklaas/backbonzo-go/internal/catalog"
	"github.com/marcusklaas/backbonzo-go/internal/config"
	"github.com/marcusklaas/backbonzo-go/internal/crypto"
	"github.com/marcusklaas/backbonzo-go/internal/objectstore"
	"github.com/marcusklaas/backbonzo-go/internal/pipeline"
	"github.com/marcusklaas/backbonzo-go/internal/restore"
)

const settingPasswordVerifier = "password_verifier"

// zeroIV is the deterministic all-zero IV used only for the index file:
// acceptable because the index is rewritten in full every session, unlike
// blocks, which always carry a fresh random IV recorded in the catalog.
var zeroIV = make([]byte, 16)

func withDefaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Init creates a brand-new catalog at cfg.DestPath and writes the initial
// encrypted (empty) index. It refuses if an index already exists there.
func Init(cfg config.Config, logger *slog.Logger) error {
	logger = withDefaultLogger(logger)

	store, err := objectstore.Open(cfg.DestPath)
	if err != nil {
		return err
	}
	if store.IndexExists() {
		return bonzoerr.Newf("Database file already exists")
	}

	tmpDir, err := os.MkdirTemp("", "backbonzo-init-")
	if err != nil {
		return bonzoerr.IOErr("allocate temp dir", err)
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	catPath := filepath.Join(tmpDir, "index.db3")
	cat, err := catalog.Create(catPath)
	if err != nil {
		return err
	}

	verifier, err := crypto.HashPassword(cfg.Password)
	if err != nil {
		cat.Close() //nolint:errcheck
		return err
	}
	if err := cat.SetSetting(settingPasswordVerifier, verifier); err != nil {
		cat.Close() //nolint:errcheck
		return err
	}
	if err := cat.Close(); err != nil {
		return err
	}

	if err := publishEncryptedCatalog(store, catPath, crypto.DeriveKey(cfg.Password)); err != nil {
		return err
	}

	logger.Info("catalog initialized", "dest", cfg.DestPath)
	return nil
}

// Backup verifies the password against the stored verifier, then runs the
// pipeline over cfg.SourcePath, publishing the updated encrypted index on
// success (or on a clean deadline-triggered partial run).
func Backup(cfg config.Config, logger *slog.Logger) (pipeline.Summary, error) {
	logger = withDefaultLogger(logger)

	session, err := openAuthenticated(cfg, logger)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer os.RemoveAll(session.tmpDir) //nolint:errcheck

	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = config.DefaultBlockSize
	}

	summary := pipeline.Run(context.Background(), session.cat, session.store, cfg.SourcePath, blockSize, workers, session.key, nowMillis(), cfg.Deadline, logger)

	if err := session.cat.Close(); err != nil {
		return summary, err
	}

	if err := publishEncryptedCatalog(session.store, session.catPath, session.key); err != nil {
		return summary, err
	}

	logger.Info("backup complete",
		"files", summary.Files, "blocks", summary.Blocks,
		"object_bytes", summary.ObjectBytes, "source_bytes", summary.SourceBytes,
		"timeout", summary.Timeout)

	if summary.Fatal != nil {
		return summary, summary.Fatal
	}
	return summary, nil
}

// Restore verifies the password, then materializes the snapshot as of
// cfg.RestoreTimestamp into cfg.RestoreOut.
func Restore(cfg config.Config, logger *slog.Logger) (restore.Summary, error) {
	logger = withDefaultLogger(logger)

	session, err := openAuthenticated(cfg, logger)
	if err != nil {
		return restore.Summary{}, err
	}
	defer os.RemoveAll(session.tmpDir) //nolint:errcheck
	defer session.cat.Close()          //nolint:errcheck

	summary, err := restore.Restore(session.cat, session.store, cfg.RestoreOut, cfg.RestoreTimestamp, session.key)
	if err != nil {
		return summary, err
	}

	logger.Info("restore complete", "files", summary.Files, "blocks", summary.Blocks, "bytes", summary.Bytes)
	return summary, nil
}

// authenticatedSession bundles the state openAuthenticated assembles: the
// destination object store, a temp-decrypted catalog ready for use, the
// derived data key, and the temp directory the catalog lives in (the
// caller is responsible for removing it once done).
type authenticatedSession struct {
	store   *objectstore.Store
	cat     *catalog.Catalog
	key     []byte
	tmpDir  string
	catPath string
}

// openAuthenticated decrypts the destination's index into a temp catalog,
// opens it, and checks the password against the stored verifier.
func openAuthenticated(cfg config.Config, logger *slog.Logger) (*authenticatedSession, error) {
	store, err := objectstore.Open(cfg.DestPath)
	if err != nil {
		return nil, err
	}
	if !store.IndexExists() {
		return nil, bonzoerr.CatalogErr("unable to open database file", fmt.Errorf("no index at %s", cfg.DestPath))
	}

	encrypted, err := store.GetIndex()
	if err != nil {
		return nil, err
	}

	key := crypto.DeriveKey(cfg.Password)
	raw, err := crypto.DecryptBlock(encrypted, key, zeroIV)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "backbonzo-session-")
	if err != nil {
		return nil, bonzoerr.IOErr("allocate temp dir", err)
	}

	catPath := filepath.Join(tmpDir, "index.db3")
	if err := os.WriteFile(catPath, raw, 0o640); err != nil {
		os.RemoveAll(tmpDir) //nolint:errcheck
		return nil, bonzoerr.IOErr("write decrypted catalog", err)
	}

	cat, err := catalog.Open(catPath)
	if err != nil {
		os.RemoveAll(tmpDir) //nolint:errcheck
		return nil, err
	}

	verifier, found, err := cat.GetSetting(settingPasswordVerifier)
	if err != nil {
		cat.Close()          //nolint:errcheck
		os.RemoveAll(tmpDir) //nolint:errcheck
		return nil, err
	}
	if !found || !crypto.CheckPassword(cfg.Password, verifier) {
		cat.Close()          //nolint:errcheck
		os.RemoveAll(tmpDir) //nolint:errcheck
		return nil, bonzoerr.CryptoErr("password mismatch", nil)
	}

	logger.Debug("catalog decrypted and authenticated", "dest", cfg.DestPath)
	return &authenticatedSession{store: store, cat: cat, key: key, tmpDir: tmpDir, catPath: catPath}, nil
}

func publishEncryptedCatalog(store *objectstore.Store, catPath string, key []byte) error {
	raw, err := os.ReadFile(catPath)
	if err != nil {
		return bonzoerr.IOErr("read catalog for encryption", err)
	}

	encrypted, err := crypto.EncryptBlock(raw, key, zeroIV)
	if err != nil {
		return err
	}

	return store.PutIndex(encrypted)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
