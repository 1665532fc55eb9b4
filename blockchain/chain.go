package blockchain

import (
	"fmt"
	"sync"
	"time"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/pagedb"
	"github.com/paprikadb/paprika/slottedarray"
)

// flushBatchSize bounds how many finalized blocks are fused into one
// database commit (spec.md §4.5's soft batching limit).
const flushBatchSize = 32

// flushBatchWindow is the soft per-batch time limit spec.md §5 calls
// "e.g., 2s".
const flushBatchWindow = 2 * time.Second

// flushResult is what the flusher hands back once a batch durably
// commits: the new read snapshot and which block numbers it subsumes.
type flushResult struct {
	reader  *pagedb.ReadBatch
	numbers []uint32
}

// Blockchain is the overlay described by spec.md §4.5: multiple
// in-progress blocks chained from the last finalized snapshot, with
// asynchronous finalization into pagedb.
//
// mu guards every field below except finalizedCh/alreadyFlushedCh
// themselves (channels are safe for concurrent use); it stands in for
// spec.md's "brief non-suspending lock while rotating db_reader" — here
// it also covers the indices and pool since this module makes no
// stronger claim about caller-side concurrency than spec.md's own
// "externally single-threaded for mutating API calls".
type Blockchain struct {
	mu sync.Mutex

	db   *pagedb.Db
	pool *pagePool

	blocksByHash   map[[32]byte]*Block
	blocksByNumber map[uint32][]*Block

	dbReader      *pagedb.ReadBatch
	lastFinalized uint32

	commitOpts pagedb.CommitOptions

	finalizedCh      chan *Block
	alreadyFlushedCh chan flushResult

	wg sync.WaitGroup
}

// New constructs a Blockchain over db with a pool of poolPages private
// pages, committing finalized batches with commitOpts, per spec.md §6's
// Blockchain::new(db).
func New(db *pagedb.Db, poolPages int, commitOpts pagedb.CommitOptions) *Blockchain {
	bc := &Blockchain{
		db:               db,
		pool:             newPagePool(poolPages),
		blocksByHash:     make(map[[32]byte]*Block),
		blocksByNumber:   make(map[uint32][]*Block),
		dbReader:         db.BeginReadOnly(),
		commitOpts:       commitOpts,
		finalizedCh:      make(chan *Block, flushBatchSize),
		alreadyFlushedCh: make(chan flushResult, 4),
	}

	bc.wg.Add(1)

	go bc.flushLoop()

	return bc
}

func (bc *Blockchain) currentDBReader() *pagedb.ReadBatch {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	return bc.dbReader
}

// StartNew begins a fresh block chained from parentHash, per spec.md
// §4.5's start_new.
func (bc *Blockchain) StartNew(parentHash, blockHash [32]byte, number uint32) *Block {
	bc.drainFlushed()

	bc.mu.Lock()
	parent := bc.blocksByHash[parentHash]
	bc.mu.Unlock()

	return newBlock(bc, parentHash, blockHash, number, parent)
}

// drainFlushed applies every flush result the flusher has produced
// since the last call: rotating db_reader and returning flushed blocks'
// pool pages, per spec.md §4.5 step 1 of start_new.
func (bc *Blockchain) drainFlushed() {
	for {
		select {
		case res := <-bc.alreadyFlushedCh:
			bc.applyFlushResult(res)
		default:
			return
		}
	}
}

func (bc *Blockchain) applyFlushResult(res flushResult) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.dbReader = res.reader

	for _, n := range res.numbers {
		for _, blk := range bc.blocksByNumber[n] {
			delete(bc.blocksByHash, blk.hash)

			for _, buf := range blk.bufs {
				bc.pool.put(buf)
			}

			// The pages belong to the pool again; a child still pointing at
			// blk finds no maps here and reads through to dbReader, which
			// already holds blk's writes.
			blk.bufs = nil
		}

		delete(bc.blocksByNumber, n)
	}
}

func (bc *Blockchain) commit(b *Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.blocksByHash[b.hash] = b
	bc.blocksByNumber[b.number] = append(bc.blocksByNumber[b.number], b)
}

// Finalize walks block_hash's ancestor chain back to last_finalized and
// enqueues each ancestor, oldest first, to the flusher, per spec.md
// §4.5's finalize.
func (bc *Blockchain) Finalize(blockHash [32]byte) error {
	bc.mu.Lock()

	b, ok := bc.blocksByHash[blockHash]
	if !ok {
		bc.mu.Unlock()
		return fmt.Errorf("blockchain: finalize: unknown block hash: %w", errs.ErrInvariantViolated)
	}

	if b.number <= bc.lastFinalized {
		bc.mu.Unlock()
		return fmt.Errorf("blockchain: finalize: block number %d <= last_finalized %d: %w",
			b.number, bc.lastFinalized, errs.ErrInvariantViolated)
	}

	var chain []*Block

	for cur := b; cur != nil && cur.number > bc.lastFinalized; cur = cur.parent {
		chain = append(chain, cur)
	}

	bc.lastFinalized = b.number
	bc.mu.Unlock()

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	for _, blk := range chain {
		bc.finalizedCh <- blk
	}

	return nil
}

// flushLoop is the single background task draining finalizedCh, per
// spec.md §4.5's flusher loop.
func (bc *Blockchain) flushLoop() {
	defer bc.wg.Done()

	for first := range bc.finalizedCh {
		batch := []*Block{first}
		deadline := time.After(flushBatchWindow)

	collect:
		for len(batch) < flushBatchSize {
			select {
			case blk, ok := <-bc.finalizedCh:
				if !ok {
					break collect
				}

				batch = append(batch, blk)
			case <-deadline:
				break collect
			}
		}

		bc.flushBatch(batch)
	}
}

func (bc *Blockchain) flushBatch(blocks []*Block) {
	wb, err := bc.db.BeginNext()
	if err != nil {
		// IoFailure-class errors are fatal to this batch only (spec.md
		// §7); the next finalize's blocks get their own attempt.
		return
	}

	for _, blk := range blocks {
		wb.SetBlockMetadata(blk.number, blk.hash)

		for _, buf := range blk.bufs {
			slottedarray.Wrap(buf).EnumerateAll(func(e slottedarray.Entry) bool {
				wb.Set(e.Key, e.Value)
				return true
			})
		}
	}

	if err := wb.Commit(bc.commitOpts); err != nil {
		wb.Discard()
		return
	}

	numbers := make([]uint32, len(blocks))
	for i, blk := range blocks {
		numbers[i] = blk.number
	}

	bc.alreadyFlushedCh <- flushResult{reader: bc.db.BeginReadOnly(), numbers: numbers}
}

// Close stops accepting new finalizations, waits for the flusher to
// drain, and applies any remaining flush results, per spec.md §4.5's
// disposal.
func (bc *Blockchain) Close() error {
	close(bc.finalizedCh)
	bc.wg.Wait()
	bc.drainFlushed()

	return nil
}
