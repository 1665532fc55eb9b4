// Package paprika is the top-level entry point tying the paged store,
// trie, and blockchain overlay together into the public API spec.md §6
// describes: open a database, read through a snapshot, or layer a
// blockchain of in-progress blocks atop it.
package paprika

import (
	"github.com/paprikadb/paprika/blockchain"
	"github.com/paprikadb/paprika/pagedb"
)

// CommitOptions re-exports pagedb's durability levels at the package
// root, per spec.md §6's commit-time durability choice.
type CommitOptions = pagedb.CommitOptions

const (
	DataOnly    = pagedb.DataOnly
	DataAndRoot = pagedb.DataAndRoot
	NoFlush     = pagedb.NoFlush
	NoWrite     = pagedb.NoWrite
)

// Db is the paged store, per spec.md §4.4.
type Db = pagedb.Db

// ReadBatch is a stable read snapshot, per spec.md §6's read_only_batch.
type ReadBatch = pagedb.ReadBatch

// WriteBatch is the sole writer for one batch, per spec.md §4.4.
type WriteBatch = pagedb.WriteBatch

// Blockchain is the in-memory block overlay, per spec.md §4.5.
type Blockchain = blockchain.Blockchain

// Block is one in-progress block state, per spec.md §3/§4.5.
type Block = blockchain.Block

// OpenPersistent opens (creating if absent) a persistent, memory-mapped
// database at path, per spec.md §6's open_persistent.
func OpenPersistent(path string, maxReorgDepth uint32, maxSizeBytes int64) (*Db, error) {
	return pagedb.Open(path, maxReorgDepth, maxSizeBytes)
}

// OpenMemory opens a purely in-memory database, per spec.md §6's
// open_memory.
func OpenMemory(maxReorgDepth uint32, sizeBytes int) (*Db, error) {
	return pagedb.OpenMemory(maxReorgDepth, sizeBytes)
}

// NewBlockchain layers a blockchain overlay atop db, renting block pages
// from a pool of poolPages pages and committing finalized batches with
// commitOpts, per spec.md §6's Blockchain::new(db).
func NewBlockchain(db *Db, poolPages int, commitOpts CommitOptions) *Blockchain {
	return blockchain.New(db, poolPages, commitOpts)
}
