// Package pagedb implements the paged store (spec.md §4.4): a
// page-addressable region backed either by a memory-mapped file or by an
// in-process buffer, with copy-on-write batching, a root ring for atomic
// durable commit, and per-batch abandoned-page lists reclaimed once they
// fall outside the reorg-retention window.
//
// The mmap lifecycle (open, lock, map, recover-from-ring, commit with
// configurable fsync levels) is grounded on the teacher's
// pkg/slotcache/open.go and pkg/slotcache/lock.go, adapted from a
// single-file fixed-schema cache to a growable, typed page hierarchy.
package pagedb

import (
	"fmt"
	"sync"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/page"
)

// CommitOptions controls what gets fsynced when a write batch commits,
// per spec.md §4.4/§6's durability levels.
type CommitOptions uint8

const (
	// DataOnly fsyncs data pages and writes the new root slot, but does
	// not fsync the root: atomic, not durable.
	DataOnly CommitOptions = iota
	// DataAndRoot fsyncs data pages, then the root slot: atomic and
	// durable.
	DataAndRoot
	// NoFlush writes everything but fsyncs nothing. Debug only.
	NoFlush
	// NoWrite discards the batch's writes entirely. Debug only.
	NoWrite
)

// Db is the paged store. It owns a growable page-addressable region and
// enforces single-writer/multi-reader access: at most one WriteBatch may
// be open at a time, concurrent with any number of ReadBatch snapshots.
type Db struct {
	mu sync.Mutex

	backing       backing
	maxReorgDepth uint32

	writerActive bool

	lastCommittedBatchID uint32
	lastRootAddr         page.Addr
	lastBlockNumber      uint32
	lastBlockHash        [32]byte
	pageCount            uint64
}

// OpenMemory opens a purely in-memory store. sizeBytes is the fixed total
// capacity; it is never grown beyond that.
func OpenMemory(maxReorgDepth uint32, sizeBytes int) (*Db, error) {
	if maxReorgDepth == 0 {
		return nil, fmt.Errorf("pagedb: max_reorg_depth must be >= 1: %w", errs.ErrInvariantViolated)
	}

	b := newMemBacking(sizeBytes)

	db := &Db{backing: b, maxReorgDepth: maxReorgDepth}
	if err := db.bootstrapRing(); err != nil {
		return nil, err
	}

	if err := db.recover(); err != nil {
		return nil, err
	}

	return db, nil
}

// Open opens (creating if absent) a persistent, memory-mapped store at
// path.
func Open(path string, maxReorgDepth uint32, maxSizeBytes int64) (*Db, error) {
	if maxReorgDepth == 0 {
		return nil, fmt.Errorf("pagedb: max_reorg_depth must be >= 1: %w", errs.ErrInvariantViolated)
	}

	b, err := openFileBacking(path, maxSizeBytes, maxReorgDepth)
	if err != nil {
		return nil, err
	}

	db := &Db{backing: b, maxReorgDepth: maxReorgDepth}
	if err := db.recover(); err != nil {
		return nil, err
	}

	return db, nil
}

// ringSlots returns the number of root-ring slots for a given
// max_reorg_depth: one more than the retention window itself, so that the
// slot a batch b occupies is only overwritten by batch b+max_reorg_depth+1,
// matching spec.md §3/§8's strict "reused no earlier than
// current_batch_id + max_reorg_depth + 1" / "current_batch_id - b >
// max_reorg_depth" requirement. A ring sized exactly max_reorg_depth would
// overwrite (and harvest) batch b's slot at b+max_reorg_depth, one batch
// too early.
func ringSlots(maxReorgDepth uint32) uint32 {
	return maxReorgDepth + 1
}

// ringSlots returns the number of root-ring slots this Db was opened with.
func (db *Db) ringSlots() uint32 {
	return ringSlots(db.maxReorgDepth)
}

// bootstrapRing initializes the root ring in a freshly allocated memory
// backing (the file backing bootstraps its ring as part of file
// creation, see bootstrapFile).
func (db *Db) bootstrapRing() error {
	n := db.ringSlots()

	if err := db.backing.grow(uint64(n)); err != nil {
		return err
	}

	for i := uint32(0); i < n; i++ {
		p := db.backing.pageAt(page.Addr(i))
		p.Clear(0, page.TypeRoot, 0)

		v := newRootView(p)
		v.setRootAddr(page.Null)
		v.setAbandonedHead(page.Null)
		v.setPageWatermark(uint64(n))
		v.storeChecksum()
	}

	return nil
}

// recover scans the root ring and adopts the slot with the greatest
// valid batch id, per spec.md §4.4/§6.
func (db *Db) recover() error {
	var (
		best     rootView
		bestSeen bool
	)

	n := db.ringSlots()

	for i := uint32(0); i < n; i++ {
		p := db.backing.pageAt(page.Addr(i))
		v := newRootView(p)

		if !v.valid() {
			continue
		}

		if !bestSeen || v.batchID() > best.batchID() {
			best = v
			bestSeen = true
		}
	}

	if !bestSeen {
		return fmt.Errorf("pagedb: no valid root page found: %w", errs.ErrCorruptPage)
	}

	db.lastCommittedBatchID = best.batchID()
	db.lastRootAddr = best.rootAddr()
	db.lastBlockNumber = best.blockNumber()
	db.lastBlockHash = best.blockHash()
	db.pageCount = best.pageWatermark()

	if db.pageCount < uint64(n) {
		db.pageCount = uint64(n)
	}

	return nil
}

func (db *Db) rootSlot(batchID uint32) page.Addr {
	return page.Addr(batchID % db.ringSlots()) //nolint:gosec
}

// Close releases the backing resources. Any in-flight write batch must be
// committed or discarded first.
func (db *Db) Close() error {
	return db.backing.close()
}

// readMetadata reads the fields external callers see via
// ReadBatch.Metadata under db.mu, the same lock commit holds while it
// updates them, so the two uint32/[32]byte fields are never read torn.
func (db *Db) readMetadata() (blockNumber uint32, blockHash [32]byte) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.lastBlockNumber, db.lastBlockHash
}
