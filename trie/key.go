// Package trie implements the nibble-fan-out trie page hierarchy
// (spec.md §4.3): DataPage/BottomPage/LeafOverflowPage variants holding a
// local slottedarray.Array plus up to 16 child addresses, with
// copy-on-write descent driven by an Allocator the caller supplies.
//
// Grounded on the teacher's pkg/slotcache/writer.go for its dirty-batch,
// copy-before-mutate discipline, generalized here from a flat bucket
// table to a recursive page tree.
package trie

import (
	"github.com/paprikadb/paprika/nibblepath"
)

// KeyType tags which part of the account/storage/merkle key space a key
// addresses (spec.md §3's Key entity).
type KeyType uint8

const (
	KeyAccount     KeyType = 0
	KeyStorageCell KeyType = 1
	// KeyMerkle rounds out the three-way key-type tag spec.md's key schema
	// describes; Merkle hashing itself is out of scope, so nothing in this
	// module encodes or writes a key of this type.
	KeyMerkle KeyType = 2
)

// scratchLen returns a safe scratch buffer size for packing n total
// nibbles, per spec.md's length/2+2 sizing rule.
func scratchLen(nibbles int) int {
	return nibbles/2 + 2
}

// EncodeAccountKey builds the canonical trie key for an account: the
// Account type tag followed by its 32-byte address as 64 nibbles.
func EncodeAccountKey(addr [32]byte) nibblepath.Path {
	addrPath := nibblepath.FromBytes(addr[:], 0, 64)

	tagScratch := make([]byte, 1)
	tag := nibblepath.Empty().AppendNibble(byte(KeyAccount), tagScratch)

	out := make([]byte, scratchLen(tag.Len()+addrPath.Len()))

	return tag.Append(addrPath, out)
}

// EncodeStorageKey builds the canonical trie key for a storage cell: the
// StorageCell tag, the account address, then the 32-byte storage slot.
func EncodeStorageKey(addr, slot [32]byte) nibblepath.Path {
	addrPath := nibblepath.FromBytes(addr[:], 0, 64)
	slotPath := nibblepath.FromBytes(slot[:], 0, 64)

	tagScratch := make([]byte, 1)
	tag := nibblepath.Empty().AppendNibble(byte(KeyStorageCell), tagScratch)

	mid := make([]byte, scratchLen(tag.Len()+addrPath.Len()))
	withAddr := tag.Append(addrPath, mid)

	out := make([]byte, scratchLen(withAddr.Len()+slotPath.Len()))

	return withAddr.Append(slotPath, out)
}


