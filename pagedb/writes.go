package pagedb

import (
	"github.com/paprikadb/paprika/nibblepath"
	"github.com/paprikadb/paprika/trie"
)

// SetAccount writes (or, if account is the zero value with a nil Balance
// encoding to all zeros, logically replaces) the account at addr, per
// spec.md §6's write_batch().set_account(addr, account).
func (wb *WriteBatch) SetAccount(addr [32]byte, account trie.Account) {
	key := trie.EncodeAccountKey(addr)
	root := wb.rootAddr

	trie.Set(wb, &root, key, trie.EncodeAccount(account))
	wb.rootAddr = root
}

// DeleteAccount removes the account at addr, per spec.md §6's
// write_batch().delete_account(addr).
func (wb *WriteBatch) DeleteAccount(addr [32]byte) {
	key := trie.EncodeAccountKey(addr)
	root := wb.rootAddr

	trie.Set(wb, &root, key, nil)
	wb.rootAddr = root
}

// SetStorage writes the storage cell at (addr, slot), per spec.md §6's
// write_batch().set_storage(addr, slot, value). A nil or empty value
// deletes the cell.
func (wb *WriteBatch) SetStorage(addr, slot [32]byte, value []byte) {
	key := trie.EncodeStorageKey(addr, slot)
	root := wb.rootAddr

	trie.Set(wb, &root, key, value)
	wb.rootAddr = root
}

// Set writes an arbitrary raw key, per spec.md §6's generic
// write_batch().set(key, value).
func (wb *WriteBatch) Set(key nibblepath.Path, value []byte) {
	root := wb.rootAddr
	trie.Set(wb, &root, key, value)
	wb.rootAddr = root
}

// TryGet reads a raw key as currently written within this batch, including
// any of this batch's own not-yet-committed writes.
func (wb *WriteBatch) TryGet(key nibblepath.Path) ([]byte, bool) {
	return trie.TryGet(merklePageAt(wb), wb.rootAddr, key)
}

// DeleteByPrefix removes every key starting with prefix, per spec.md
// §4.3's account/storage-subtree eviction use (e.g. self-destruct).
func (wb *WriteBatch) DeleteByPrefix(prefix nibblepath.Path) {
	root := wb.rootAddr
	trie.DeleteByPrefix(wb, &root, prefix)
	wb.rootAddr = root
}
