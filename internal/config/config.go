// Package config holds the plain-data parameters the session controller
// needs, populated by whatever external collaborator parses arguments
// (cmd/backupctl's flag.FlagSet, a test, …). No parsing lives here; this
// struct is the seam between the CLI boundary and the testable core.
package config

import "time"

// Config carries every parameter a session.Init/Backup/Restore call needs.
// Not every field applies to every operation — Init only reads DestPath
// and Password, for instance — callers fill in what their subcommand uses.
type Config struct {
	SourcePath string
	DestPath   string
	Password   string

	BlockSize int
	Workers   int
	Deadline  time.Time // zero value means unbounded

	RestoreOut       string
	RestoreTimestamp int64 // unix milliseconds
}

// DefaultBlockSize is the chunk size used when a caller doesn't override
// it (1 MiB).
const DefaultBlockSize = 1 << 20

// DefaultWorkers is the default encoder worker count.
const DefaultWorkers = 4
