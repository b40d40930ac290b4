// Command backupctl is the thin front-end that owns argument parsing and
// turns it into an internal/config.Config for internal/session. All real
// work happens behind that seam.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
	"github.com/marcusklaas/backbonzo-go/internal/config"
	"github.com/marcusklaas/backbonzo-go/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:], logger)
	case "backup":
		err = runBackup(os.Args[2:], logger)
	case "restore":
		err = runRestore(os.Args[2:], logger)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: backupctl <init|backup|restore> [flags]")
}

func runInit(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dest := fs.String("dest", "", "destination directory")
	password := fs.String("password", "", "backup password")
	fs.Parse(args) //nolint:errcheck

	if *dest == "" || *password == "" {
		return bonzoerr.Newf("init requires -dest and -password")
	}

	return session.Init(config.Config{DestPath: *dest, Password: *password}, logger)
}

func runBackup(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	src := fs.String("src", "", "source directory")
	dest := fs.String("dest", "", "destination directory")
	password := fs.String("password", "", "backup password")
	blockSize := fs.Int("block-size", config.DefaultBlockSize, "chunk size in bytes")
	workers := fs.Int("workers", config.DefaultWorkers, "encoder worker count")
	deadline := fs.Duration("deadline", 0, "wall-clock budget for this run (0 = unbounded)")
	fs.Parse(args) //nolint:errcheck

	if *src == "" || *dest == "" || *password == "" {
		return bonzoerr.Newf("backup requires -src, -dest and -password")
	}

	cfg := config.Config{
		SourcePath: *src,
		DestPath:   *dest,
		Password:   *password,
		BlockSize:  *blockSize,
		Workers:    *workers,
	}
	if *deadline > 0 {
		cfg.Deadline = time.Now().Add(*deadline)
	}

	summary, err := session.Backup(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf(
		"Backed up %d files, into %d blocks containing %d bytes (source %d bytes). Timeout: %v\n",
		summary.Files, summary.Blocks, summary.ObjectBytes, summary.SourceBytes, summary.Timeout,
	)
	return nil
}

func runRestore(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dest := fs.String("dest", "", "backup destination directory")
	out := fs.String("out", "", "directory to restore into")
	password := fs.String("password", "", "backup password")
	timestamp := fs.Int64("timestamp", time.Now().UnixMilli(), "snapshot timestamp (ms since epoch)")
	fs.Parse(args) //nolint:errcheck

	if *dest == "" || *out == "" || *password == "" {
		return bonzoerr.Newf("restore requires -dest, -out and -password")
	}

	cfg := config.Config{
		DestPath:         *dest,
		Password:         *password,
		RestoreOut:       *out,
		RestoreTimestamp: *timestamp,
	}

	summary, err := session.Restore(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Restored %d bytes to %d files, from %d blocks\n", summary.Bytes, summary.Files, summary.Blocks)
	return nil
}
