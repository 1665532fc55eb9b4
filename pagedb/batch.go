package pagedb

import (
	"fmt"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/page"
)

// ReadBatch is a stable snapshot bound to the root committed at the time
// it was opened. It never observes a concurrently in-progress write
// batch, and remains valid for its entire lifetime regardless of later
// commits (spec.md §8's "CoW isolation").
type ReadBatch struct {
	db           *Db
	rootAddr     page.Addr
	blockNumber  uint32
	blockHash    [32]byte
	batchID      uint32
}

// BeginReadOnly opens a snapshot of the most recently committed state.
func (db *Db) BeginReadOnly() *ReadBatch {
	db.mu.Lock()
	defer db.mu.Unlock()

	return &ReadBatch{
		db:          db,
		rootAddr:    db.lastRootAddr,
		blockNumber: db.lastBlockNumber,
		blockHash:   db.lastBlockHash,
		batchID:     db.lastCommittedBatchID,
	}
}

// RootAddr returns the trie root this snapshot is bound to.
func (rb *ReadBatch) RootAddr() page.Addr { return rb.rootAddr }

// Metadata returns the block number and hash recorded by the commit this
// snapshot is bound to.
func (rb *ReadBatch) Metadata() (blockNumber uint32, blockHash [32]byte) {
	return rb.blockNumber, rb.blockHash
}

// PageAt returns the page at addr as it stood when this snapshot was
// taken. Safe to call concurrently with an in-progress write batch:
// pages this snapshot can reach were never mutated in place (copy-on-
// write always allocates a fresh address for the writer), only
// abandoned, and abandoned pages are not reused until every snapshot
// that could observe them has aged out (max_reorg_depth commits).
func (rb *ReadBatch) PageAt(addr page.Addr) page.Page {
	return rb.db.backing.pageAt(addr)
}

// WriteBatch is the sole writer. It is obtained via Db.BeginNext and must
// be disposed of via Commit or Discard before another can begin.
type WriteBatch struct {
	db       *Db
	batchID  uint32
	rootAddr page.Addr

	blockNumber uint32
	blockHash   [32]byte

	abandonedHead page.Addr // head for this batch's abandoned list
	abandonedTail page.Addr // addr of the abandoned page currently accepting pushes

	freeList []page.Addr // reusable addresses harvested from an expired batch

	done bool
}

// BeginNext obtains the sole writer for the next batch. It returns
// errs.ErrBusy if a write batch is already open.
func (db *Db) BeginNext() (*WriteBatch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.writerActive {
		return nil, fmt.Errorf("pagedb: write batch already open: %w", errs.ErrBusy)
	}

	db.writerActive = true

	wb := &WriteBatch{
		db:            db,
		batchID:       db.lastCommittedBatchID + 1,
		rootAddr:      db.lastRootAddr,
		blockNumber:   db.lastBlockNumber,
		blockHash:     db.lastBlockHash,
		abandonedHead: page.Null,
		abandonedTail: page.Null,
	}

	wb.harvestExpiredBatch()

	return wb, nil
}

// harvestExpiredBatch reclaims the abandoned-page list belonging to the
// batch about to be overwritten in the root ring, per spec.md §4.4's
// allocation policy: a batch b's freed pages become reusable once
// current_batch_id − b > max_reorg_depth. The ring holds
// ringSlots(max_reorg_depth) == max_reorg_depth+1 slots, so the slot for
// batch b is only overwritten by batch b+max_reorg_depth+1 — at that
// point current_batch_id − b == max_reorg_depth+1, satisfying the strict
// inequality (documented in DESIGN.md).
func (wb *WriteBatch) harvestExpiredBatch() {
	db := wb.db
	slot := db.rootSlot(wb.batchID)

	expiring := newRootView(db.backing.pageAt(slot))
	if !expiring.valid() || expiring.batchID() == wb.batchID {
		return
	}

	head := expiring.abandonedHead()

	for head.Valid() {
		v := newAbandonedView(db.backing.pageAt(head))
		for i := 0; i < v.count(); i++ {
			wb.freeList = append(wb.freeList, v.entry(i))
		}

		next := v.next()
		wb.freeList = append(wb.freeList, head) // the abandoned-list page itself is reusable too
		head = next
	}
}

// BatchID returns the id stamped into every page this batch writes.
func (wb *WriteBatch) BatchID() uint32 { return wb.batchID }

// RootAddr returns the current trie root address for this batch.
func (wb *WriteBatch) RootAddr() page.Addr { return wb.rootAddr }

// SetRootAddr updates the trie root address, called after a trie
// operation that replaces the root page via copy-on-write.
func (wb *WriteBatch) SetRootAddr(addr page.Addr) { wb.rootAddr = addr }

// SetBlockMetadata stamps the block number/hash this batch will commit.
func (wb *WriteBatch) SetBlockMetadata(number uint32, hash [32]byte) {
	wb.blockNumber = number
	wb.blockHash = hash
}

// GetAt returns the page at addr as currently written within this batch.
func (wb *WriteBatch) GetAt(addr page.Addr) page.Page {
	return wb.db.backing.pageAt(addr)
}

// WasWritten reports whether the page at addr was already made writable
// in this batch (i.e. copy-on-write has already happened for it).
func (wb *WriteBatch) WasWritten(addr page.Addr) bool {
	return wb.db.backing.pageAt(addr).BatchID() == wb.batchID
}

// GetNewPage allocates a fresh page, preferring an address harvested from
// an expired batch's abandoned list over growing the file.
func (wb *WriteBatch) GetNewPage(clear bool) (page.Page, page.Addr) {
	var addr page.Addr

	if n := len(wb.freeList); n > 0 {
		addr = wb.freeList[n-1]
		wb.freeList = wb.freeList[:n-1]
	} else {
		addr = page.Addr(wb.db.pageCount)
		wb.db.pageCount++

		if err := wb.db.backing.grow(wb.db.pageCount); err != nil {
			// Capacity errors surface to the caller as an invariant: a
			// misconfigured max_size_bytes is a setup error, not normal
			// flow. The batch already holds db.mu's invariant of single
			// writer, so panicking here is confined to this batch.
			panic(err)
		}
	}

	p := wb.db.backing.pageAt(addr)
	if clear {
		p.Clear(wb.batchID, page.TypeFree, 0)
	} else {
		p.SetBatchID(wb.batchID)
	}

	return p, addr
}

// GetWritableCopy returns a fresh page stamped with this batch's id,
// containing a copy of src's bytes, without reassigning any caller-held
// address. Used when the destination address is tracked separately (for
// example, a child slot about to be updated by the caller).
func (wb *WriteBatch) GetWritableCopy(src page.Page) (page.Page, page.Addr) {
	dst, addr := wb.GetNewPage(false)
	dst.CopyFrom(src)
	dst.SetBatchID(wb.batchID)

	return dst, addr
}

// EnsureWritableCopy is GetAt + copy-on-write + address reassignment
// fused into one call: if the page at *addr is not yet writable in this
// batch, it is copied into a fresh page, *addr is updated, and the old
// address is registered for future reuse.
func (wb *WriteBatch) EnsureWritableCopy(addr *page.Addr) page.Page {
	if !addr.Valid() {
		p, newAddr := wb.GetNewPage(true)
		*addr = newAddr

		return p
	}

	cur := wb.GetAt(*addr)
	if wb.WasWritten(*addr) {
		return cur
	}

	fresh, newAddr := wb.GetWritableCopy(cur)
	wb.RegisterForFutureReuse(*addr)
	*addr = newAddr

	return fresh
}

// RegisterForFutureReuse appends addr to this batch's abandoned-page
// list, allocating a continuation abandoned page when the current one
// fills.
func (wb *WriteBatch) RegisterForFutureReuse(addr page.Addr) {
	if !wb.abandonedTail.Valid() {
		p, newAddr := wb.GetNewPage(true)
		p.SetType(page.TypeAbandoned)
		newAbandonedView(p).setNext(page.Null)
		wb.abandonedHead = newAddr
		wb.abandonedTail = newAddr
	}

	tail := newAbandonedView(wb.GetAt(wb.abandonedTail))
	if tail.push(addr) {
		return
	}

	next, nextAddr := wb.GetNewPage(true)
	next.SetType(page.TypeAbandoned)
	newAbandonedView(next).setNext(page.Null)
	tail.setNext(nextAddr)

	newTail := newAbandonedView(next)
	newTail.push(addr)

	wb.abandonedTail = nextAddr
}

// Commit durably writes the batch per opts and advances the database's
// committed state. NoWrite discards the batch instead.
func (wb *WriteBatch) Commit(opts CommitOptions) error {
	if wb.done {
		return fmt.Errorf("pagedb: batch already committed: %w", errs.ErrInvariantViolated)
	}

	wb.done = true
	db := wb.db

	db.mu.Lock()
	defer func() {
		db.writerActive = false
		db.mu.Unlock()
	}()

	if opts == NoWrite {
		return nil
	}

	if opts == DataOnly || opts == DataAndRoot {
		if err := db.backing.flushData(); err != nil {
			return err
		}
	}

	slot := db.rootSlot(wb.batchID)
	root := newRootView(db.backing.pageAt(slot))
	root.p.Clear(wb.batchID, page.TypeRoot, 0)
	root.setRootAddr(wb.rootAddr)
	root.setBlockNumber(wb.blockNumber)
	root.setBlockHash(wb.blockHash)
	root.setAbandonedHead(wb.abandonedHead)
	root.setPageWatermark(db.pageCount)
	root.storeChecksum()

	if opts == DataAndRoot {
		if err := db.backing.flushRoot(); err != nil {
			return err
		}
	}

	db.lastCommittedBatchID = wb.batchID
	db.lastRootAddr = wb.rootAddr
	db.lastBlockNumber = wb.blockNumber
	db.lastBlockHash = wb.blockHash

	return nil
}

// Discard abandons the batch without committing any change.
func (wb *WriteBatch) Discard() {
	if wb.done {
		return
	}

	wb.done = true
	wb.db.mu.Lock()
	wb.db.writerActive = false
	wb.db.mu.Unlock()
}
