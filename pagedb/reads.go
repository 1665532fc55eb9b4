package pagedb

import (
	"github.com/paprikadb/paprika/nibblepath"
	"github.com/paprikadb/paprika/page"
	"github.com/paprikadb/paprika/trie"
)

// GetAccount looks up the account stored at addr, per spec.md §6's
// read_only_batch().get_account(addr).
func (rb *ReadBatch) GetAccount(addr [32]byte) (trie.Account, bool) {
	key := trie.EncodeAccountKey(addr)

	v, ok := trie.TryGet(rb.PageAt, rb.rootAddr, key)
	if !ok {
		return trie.Account{}, false
	}

	return trie.DecodeAccount(v)
}

// GetStorage looks up the storage cell at (addr, slot), per spec.md §6's
// read_only_batch().get_storage(addr, slot).
func (rb *ReadBatch) GetStorage(addr, slot [32]byte) ([]byte, bool) {
	key := trie.EncodeStorageKey(addr, slot)
	return trie.TryGet(rb.PageAt, rb.rootAddr, key)
}

// TryGet is the generic raw-key lookup backing get_account/get_storage and
// any Merkle-key reads, per spec.md §6's read_only_batch().try_get(key).
func (rb *ReadBatch) TryGet(key nibblepath.Path) ([]byte, bool) {
	return trie.TryGet(rb.PageAt, rb.rootAddr, key)
}

// merklePageAt is a trie.PageReader bound to a particular batch id, used
// by write-side callers that need to read through an in-progress batch's
// own writes without a ReadBatch snapshot.
func merklePageAt(wb *WriteBatch) trie.PageReader {
	return func(addr page.Addr) page.Page { return wb.GetAt(addr) }
}
