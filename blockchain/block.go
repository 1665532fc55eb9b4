package blockchain

import (
	"fmt"

	"github.com/holiman/bloomfilter/v2"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/nibblepath"
	"github.com/paprikadb/paprika/slottedarray"
	"github.com/paprikadb/paprika/trie"
)

// Block is one in-progress, in-memory block state layered atop its
// parent chain and, ultimately, the last flushed database snapshot
// (spec.md §4.5/§3's Block entity).
//
// parent is a plain pointer rather than spec.md's weak reference: Go's
// garbage collector reclaims a disposed block's memory once Blockchain
// drops its own strong references (blocksByHash/blocksByNumber), so a
// second, manually-managed weak-reference scheme would only duplicate
// what the runtime already does safely.
type Block struct {
	bc *Blockchain

	hash       [32]byte
	parentHash [32]byte
	number     uint32

	bloom  *bloomfilter.Filter
	bufs   [][]byte // pool pages, oldest first; last is the current map
	parent *Block
}

func newBlock(bc *Blockchain, parentHash, hash [32]byte, number uint32, parent *Block) *Block {
	return &Block{
		bc:         bc,
		hash:       hash,
		parentHash: parentHash,
		number:     number,
		bloom:      newBloom(),
		parent:     parent,
	}
}

// Hash returns the block's own hash.
func (b *Block) Hash() [32]byte { return b.hash }

// Number returns the block's height.
func (b *Block) Number() uint32 { return b.number }

func (b *Block) currentMap() slottedarray.Array {
	return slottedarray.Wrap(b.bufs[len(b.bufs)-1])
}

func (b *Block) allocateMap() {
	b.bc.mu.Lock()
	buf, ok := b.bc.pool.rent()
	b.bc.mu.Unlock()

	if !ok {
		panic(fmt.Errorf("blockchain: page pool exhausted: %w", errs.ErrPoolExhausted))
	}

	b.bufs = append(b.bufs, buf)
}

// SetRaw writes key -> value into this block's current map, renting a
// fresh pool page and retrying once if the current map has no room. A
// nil or empty value is a delete: TryGet on this block and its
// descendants reports the key absent, and replaying it through the paged
// trie at flush time deletes it there (trie.Set's own
// empty-value-means-delete convention).
func (b *Block) SetRaw(key nibblepath.Path, value []byte) {
	b.bloom.Add(bloomKey(key))

	if len(b.bufs) == 0 {
		b.allocateMap()
	}

	if b.currentMap().TrySet(key, value) {
		return
	}

	b.allocateMap()

	if !b.currentMap().TrySet(key, value) {
		panic(fmt.Errorf("blockchain: value does not fit a single pool page: %w", errs.ErrInvariantViolated))
	}
}

// SetAccount writes the account at addr, per spec.md §6's Block
// set_account.
func (b *Block) SetAccount(addr [32]byte, account trie.Account) {
	b.SetRaw(trie.EncodeAccountKey(addr), trie.EncodeAccount(account))
}

// SetStorage writes the storage cell at (addr, slot), per spec.md §6's
// Block set_storage. A nil value deletes the cell.
func (b *Block) SetStorage(addr, slot [32]byte, value []byte) {
	b.SetRaw(trie.EncodeStorageKey(addr, slot), value)
}

// TryGet walks this block's chain, then falls through to the current
// database snapshot, per spec.md §4.5's block-read algorithm. The
// returned slice is an owned copy: unlike spec.md's borrowed "read
// lease", this sidesteps tracking lease lifetimes against pool-page
// reuse, at the cost of one copy per hit (see DESIGN.md).
func (b *Block) TryGet(key nibblepath.Path) ([]byte, bool) {
	probe := bloomKey(key)

	for cur := b; cur != nil; cur = cur.parent {
		if !cur.bloom.Contains(probe) {
			continue
		}

		for i := len(cur.bufs) - 1; i >= 0; i-- {
			if v, ok := slottedarray.Wrap(cur.bufs[i]).TryGet(key); ok {
				if len(v) == 0 {
					return nil, false
				}

				return append([]byte(nil), v...), true
			}
		}
	}

	return b.bc.currentDBReader().TryGet(key)
}

// GetAccount reads the account at addr, per spec.md §6's Block
// get_account.
func (b *Block) GetAccount(addr [32]byte) (trie.Account, bool) {
	v, ok := b.TryGet(trie.EncodeAccountKey(addr))
	if !ok {
		return trie.Account{}, false
	}

	return trie.DecodeAccount(v)
}

// GetStorage reads the storage cell at (addr, slot), per spec.md §6's
// Block get_storage.
func (b *Block) GetStorage(addr, slot [32]byte) ([]byte, bool) {
	return b.TryGet(trie.EncodeStorageKey(addr, slot))
}

// Commit inserts the block into the blockchain's indices, making it
// visible to StartNew/finalize. It does not block on flushing.
func (b *Block) Commit() {
	b.bc.commit(b)
}
