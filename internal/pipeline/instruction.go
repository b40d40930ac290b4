package pipeline

import "github.com/marcusklaas/backbonzo-go/internal/catalog"

// Instruction is the closed set of messages the encoder workers send to
// the writer: a fresh block to publish, a completed file, a tombstone, or
// a worker-side error. The writer dispatches with a type switch (see
// writer.go).
type Instruction interface {
	isInstruction()
}

// NewBlockInstr carries a freshly compressed-and-encrypted block that has
// not been seen before, for the writer to publish to the object store and
// the catalog.
type NewBlockInstr struct {
	CipherText  []byte
	IV          []byte
	Hash        string
	SourceBytes int64 // length of the plaintext chunk, pre-compression
}

func (NewBlockInstr) isInstruction() {}

// CompleteInstr is sent once all of a file's blocks have been accounted
// for (freshly stored or deduped). ExistingFileID is set instead of Refs
// when the whole file's content hash already matches a File row, in which
// case the writer persists only a new Alias, never re-inserting
// File/FileBlock rows.
type CompleteInstr struct {
	Dir            catalog.DirectoryID
	Name           string
	FileHash       string
	MTime          int64
	Refs           []catalog.BlockRef
	ExistingFileID *int64
}

func (CompleteInstr) isInstruction() {}

// TombstoneInstr marks a previously-known name as deleted as of the
// session timestamp.
type TombstoneInstr struct {
	Dir  catalog.DirectoryID
	Name string
}

func (TombstoneInstr) isInstruction() {}

// ErrorInstr reports a failure a worker hit while processing one file or
// block. The writer treats Catalog/Protocol-kind errors as fatal and
// anything else (IO, Crypto, Other) as a reported, non-fatal per-file
// failure.
type ErrorInstr struct {
	Err error
}

func (ErrorInstr) isInstruction() {}
