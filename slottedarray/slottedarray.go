// Package slottedarray implements the in-page dictionary from nibble-path
// keys (any length) to byte values described in spec.md §4.2: a slot
// directory growing up from the front of a shared buffer, and payload
// bytes growing down from the buffer's end, in the same "slots from one
// end, cells from the other" style the teacher's pkg/slotcache uses for
// its bucket table plus the B+tree-page cell layout shown in the
// retrieval pack's bbolt-derived reference files (other_examples/).
//
// Unlike the teacher's fixed-size keys, nibble-path keys are variable
// length, so rather than storing keys verbatim this packs up to 4 outer
// nibbles directly into the 16-bit slot hash (an exact, not probabilistic,
// encoding for keys of 4 nibbles or fewer) and spills any remaining middle
// nibbles into the payload area alongside the value.
package slottedarray

import (
	"encoding/binary"

	"github.com/paprikadb/paprika/nibblepath"
)

const (
	headerSize = 8
	slotSize   = 4

	offLow      = 0
	offHigh     = 2
	offDeleted  = 4
	offReserved = 6
)

// Preamble (key_preamble) class tags, packed into the high 3 bits of a
// slot's raw field.
//
// Design note (resolves spec.md §9's open question on exact slot preamble
// semantics): rather than tracking the original key's starting odd bit,
// every key is canonicalized (via nibblepath.Path.Pack) to odd=0 before
// it is hashed or serialized, so content-equal keys always produce
// byte-identical encodings regardless of how they were sliced. The 3-bit
// preamble therefore only needs to distinguish the three length classes
// plus a tombstone sentinel; bit 2 is reserved (always 0) except for the
// tombstone value, which sets all three bits.
const (
	classShort   = 0 // length in [0,3]: nibbles packed directly into hash
	classFull4   = 1 // length == 4: all 4 nibbles packed into hash
	classLong    = 2 // length >= 5: outer 4 nibbles in hash, rest in payload
	classMask    = 0x03
	preambleDead = 0x07 // tombstone sentinel; not a valid class value
)

// maxItemAddress is the largest offset representable in the 13-bit
// item_address field of a slot's raw word.
const maxItemAddress = (1 << 13) - 1

// Entry is a materialized, owned (key, value) pair yielded by enumeration.
// The key is reconstructed and owned independently of the backing page
// buffer; Value aliases the page buffer and is only valid until the next
// mutation of the array.
type Entry struct {
	Key   nibblepath.Path
	Value []byte
}

// Array is a slotted-array view over a caller-owned buffer. The buffer
// must be at least headerSize bytes; a freshly zeroed buffer is an empty
// array.
type Array struct {
	buf []byte
}

// Wrap views buf (assumed previously initialized, or freshly zeroed) as a
// slotted array. buf is not copied.
func Wrap(buf []byte) Array {
	return Array{buf: buf}
}

// Clear zeroes the header and the logical data region, discarding all
// entries.
func (a Array) Clear() {
	for i := range a.buf {
		a.buf[i] = 0
	}
}

// Count returns the number of live (non-tombstoned) entries.
func (a Array) Count() int {
	return a.slotCount() - int(a.deleted())
}

// DataLen returns the usable byte budget for slots plus payload.
func (a Array) DataLen() int {
	return len(a.buf) - headerSize
}

func (a Array) low() uint16      { return binary.LittleEndian.Uint16(a.buf[offLow:]) }
func (a Array) high() uint16     { return binary.LittleEndian.Uint16(a.buf[offHigh:]) }
func (a Array) deleted() uint16  { return binary.LittleEndian.Uint16(a.buf[offDeleted:]) }
func (a Array) setLow(v uint16)  { binary.LittleEndian.PutUint16(a.buf[offLow:], v) }
func (a Array) setHigh(v uint16) { binary.LittleEndian.PutUint16(a.buf[offHigh:], v) }

func (a Array) setDeleted(v uint16) {
	binary.LittleEndian.PutUint16(a.buf[offDeleted:], v)
}

func (a Array) slotCount() int {
	return int(a.low()) / slotSize
}

func (a Array) taken() int {
	return int(a.low()) + int(a.high())
}

// slotOffset returns the byte offset of slot i within a.buf.
func (a Array) slotOffset(i int) int {
	return headerSize + i*slotSize
}

func (a Array) slotRaw(i int) uint16 {
	off := a.slotOffset(i)
	return binary.LittleEndian.Uint16(a.buf[off:])
}

func (a Array) slotHash(i int) uint16 {
	off := a.slotOffset(i)
	return binary.LittleEndian.Uint16(a.buf[off+2:])
}

func (a Array) setSlot(i int, raw, hash uint16) {
	off := a.slotOffset(i)
	binary.LittleEndian.PutUint16(a.buf[off:], raw)
	binary.LittleEndian.PutUint16(a.buf[off+2:], hash)
}

func slotPreamble(raw uint16) uint8 {
	return uint8(raw >> 13) //nolint:gosec // top 3 bits
}

func slotItemAddress(raw uint16) int {
	return int(raw & 0x1FFF)
}

func packRaw(itemAddress int, preamble uint8) uint16 {
	return uint16(itemAddress&0x1FFF) | uint16(preamble&0x07)<<13 //nolint:gosec
}

// payload returns the n bytes starting at item address addr.
func (a Array) payload(addr, n int) []byte {
	start := headerSize + addr
	return a.buf[start : start+n]
}

// keyEncoding is the result of canonicalizing a lookup/insert key.
type keyEncoding struct {
	hash    uint16
	class   uint8
	trimmed []byte // canonical (odd=0) packed middle nibbles, class == classLong only
	midLen  int    // number of middle nibbles, class == classLong only
}

func encodeKey(key nibblepath.Path) keyEncoding {
	length := key.Len()

	switch {
	case length < 4:
		var bits uint16
		for i := 0; i < length; i++ {
			bits = bits<<4 | uint16(key.Get(i))
		}

		return keyEncoding{hash: uint16(length)<<12 | bits, class: classShort} //nolint:gosec

	case length == 4:
		var bits uint16
		for i := 0; i < 4; i++ {
			bits = bits<<4 | uint16(key.Get(i))
		}

		return keyEncoding{hash: bits, class: classFull4}

	default:
		var bits uint16
		for i := 0; i < 4; i++ {
			bits = bits<<4 | uint16(key.Get(i))
		}

		mid := key.SliceFrom(4)
		scratch := make([]byte, mid.Len()/2+2)
		packed := mid.Pack(scratch)

		nbytes := (mid.Len() + 1) / 2
		trimmed := make([]byte, nbytes)
		copy(trimmed, packed.Bytes()[:nbytes])

		return keyEncoding{hash: bits, class: classLong, trimmed: trimmed, midLen: mid.Len()}
	}
}

// entrySize computes the total payload bytes an entry with this encoding
// and value would occupy: an optional 1-byte middle-nibble-count plus
// trimmed nibble bytes (classLong only), a 2-byte value-length prefix, and
// the value bytes themselves.
func (k keyEncoding) entrySize(value []byte) int {
	n := 2 + len(value)
	if k.class == classLong {
		n += 1 + len(k.trimmed)
	}

	return n
}

// findSlot scans the slot hash words for a live slot matching enc,
// following spec.md's "scan the prefix as a u16 sequence" description:
// the slot region is treated as a flat []uint16 and only matches landing
// on the high (odd) word of a slot -- the hash field -- are candidates.
func (a Array) findSlot(enc keyEncoding) (idx int, found bool) {
	count := a.slotCount()

	for j := 1; j < count*2; j += 2 {
		i := a.slotOffset(0) + j*2
		if binary.LittleEndian.Uint16(a.buf[i:]) != enc.hash {
			continue
		}

		slotIdx := (j - 1) / 2

		raw := a.slotRaw(slotIdx)
		preamble := slotPreamble(raw)

		if preamble == preambleDead {
			continue
		}

		if preamble&classMask != enc.class {
			continue
		}

		if enc.class == classLong {
			addr := slotItemAddress(raw)
			storedMidLen := int(a.payload(addr, 1)[0])

			if storedMidLen != enc.midLen {
				continue
			}

			nbytes := (storedMidLen + 1) / 2
			stored := a.payload(addr+1, nbytes)

			if !bytesEqual(stored, enc.trimmed) {
				continue
			}
		}

		return slotIdx, true
	}

	return 0, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// valueAt returns the value bytes stored at slot i.
func (a Array) valueAt(i int) []byte {
	raw := a.slotRaw(i)
	preamble := slotPreamble(raw)
	addr := slotItemAddress(raw)

	if preamble&classMask == classLong {
		midLen := int(a.payload(addr, 1)[0])
		nbytes := (midLen + 1) / 2
		addr += 1 + nbytes
	}

	valueLen := int(binary.LittleEndian.Uint16(a.payload(addr, 2)))

	return a.payload(addr+2, valueLen)
}

// TryGet looks up key and returns its value, or ok=false if absent.
func (a Array) TryGet(key nibblepath.Path) (value []byte, ok bool) {
	enc := encodeKey(key)

	idx, found := a.findSlot(enc)
	if !found {
		return nil, false
	}

	return a.valueAt(idx), true
}

// TrySet inserts or overwrites key -> value. It returns false only when
// the array has no arrangement (even after defragmenting) that makes the
// entry fit; this is spec.md's Capacity error, surfaced as a boolean per
// §7's try_* convention.
func (a Array) TrySet(key nibblepath.Path, value []byte) bool {
	enc := encodeKey(key)

	if idx, found := a.findSlot(enc); found {
		existing := a.valueAt(idx)
		if len(existing) == len(value) {
			copy(existing, value)
			return true
		}

		a.deleteSlot(idx)
	}

	need := enc.entrySize(value)

	for attempt := 0; attempt < 2; attempt++ {
		if a.taken()+need+slotSize <= a.DataLen() {
			a.insert(enc, value, need)
			return true
		}

		if a.deleted() == 0 {
			break
		}

		a.Defragment()
	}

	return false
}

func (a Array) insert(enc keyEncoding, value []byte, need int) {
	itemAddr := a.DataLen() - int(a.high()) - need
	if itemAddr < 0 || itemAddr > maxItemAddress {
		panic("slottedarray: item address out of 13-bit range")
	}

	dst := a.payload(itemAddr, need)

	n := 0
	if enc.class == classLong {
		dst[0] = uint8(enc.midLen) //nolint:gosec
		n++
		n += copy(dst[n:], enc.trimmed)
	}

	binary.LittleEndian.PutUint16(dst[n:], uint16(len(value))) //nolint:gosec
	n += 2
	copy(dst[n:], value)

	slotIdx := a.slotCount()
	a.setSlot(slotIdx, packRaw(itemAddr, enc.class), enc.hash)
	a.setLow(a.low() + slotSize)
	a.setHigh(a.high() + uint16(need)) //nolint:gosec
}

// Delete removes key if present, returning whether it was found.
func (a Array) Delete(key nibblepath.Path) bool {
	enc := encodeKey(key)

	idx, found := a.findSlot(enc)
	if !found {
		return false
	}

	a.deleteSlot(idx)

	return true
}

// deleteSlot tombstones slot i and eagerly reclaims any now-dead slots at
// the tail of the directory, together with their payload bytes.
func (a Array) deleteSlot(i int) {
	raw := a.slotRaw(i)
	hash := a.slotHash(i)
	a.setSlot(i, packRaw(slotItemAddress(raw), preambleDead), hash)
	a.setDeleted(a.deleted() + 1)

	for a.slotCount() > 0 {
		last := a.slotCount() - 1
		if slotPreamble(a.slotRaw(last)) != preambleDead {
			break
		}

		a.setLow(a.low() - slotSize)
		a.setDeleted(a.deleted() - 1)
	}

	// Payload addresses fall as slot indices rise, so the payload area now
	// starts at the last remaining slot's entry.
	if n := a.slotCount(); n == 0 {
		a.setHigh(0)
	} else {
		a.setHigh(uint16(a.DataLen() - slotItemAddress(a.slotRaw(n-1)))) //nolint:gosec
	}
}

// Defragment repacks all live entries into a contiguous arrangement with
// no tombstones, preserving slot order. After Defragment, Count() is
// unchanged and the array has its maximum possible free space. Calling it
// twice in a row is a no-op the second time.
func (a Array) Defragment() {
	if a.deleted() == 0 {
		return
	}

	scratch := make([]byte, a.DataLen())
	scratchLow := 0
	scratchHigh := 0

	count := a.slotCount()
	for i := 0; i < count; i++ {
		raw := a.slotRaw(i)
		if slotPreamble(raw) == preambleDead {
			continue
		}

		addr := slotItemAddress(raw)

		// Determine the entry's total size by re-deriving its layout.
		n := 0
		class := slotPreamble(raw) & classMask

		if class == classLong {
			midLen := int(a.payload(addr, 1)[0])
			n = 1 + (midLen+1)/2
		}

		valueLen := int(binary.LittleEndian.Uint16(a.payload(addr+n, 2)))
		total := n + 2 + valueLen

		newAddr := len(scratch) - scratchHigh - total
		copy(scratch[newAddr:newAddr+total], a.payload(addr, total))

		binary.LittleEndian.PutUint16(scratch[scratchLow:], packRaw(newAddr, slotPreamble(raw)))
		binary.LittleEndian.PutUint16(scratch[scratchLow+2:], a.slotHash(i))

		scratchLow += slotSize
		scratchHigh += total
	}

	for i := range a.buf[headerSize:] {
		a.buf[headerSize+i] = 0
	}

	copy(a.buf[headerSize:], scratch)
	a.setLow(uint16(scratchLow))  //nolint:gosec
	a.setHigh(uint16(scratchHigh)) //nolint:gosec
	a.setDeleted(0)
}

// firstNibble returns the entry's first nibble, if it has one.
func firstNibble(hash uint16, class uint8) (nibble byte, ok bool) {
	switch class {
	case classShort:
		length := hash >> 12
		if length == 0 {
			return 0, false
		}

		bits := hash & 0x0FFF

		return byte(bits >> ((length - 1) * 4) & 0xF), true //nolint:gosec
	default: // classFull4, classLong
		return byte(hash >> 12 & 0xF), true //nolint:gosec
	}
}

// reconstructKey rebuilds the full original key for a live slot.
func (a Array) reconstructKey(i int) nibblepath.Path {
	raw := a.slotRaw(i)
	hash := a.slotHash(i)
	class := slotPreamble(raw) & classMask
	addr := slotItemAddress(raw)

	switch class {
	case classShort:
		length := int(hash >> 12)
		bits := hash & 0x0FFF
		scratch := make([]byte, 2)

		return packShortOrFull(bits, length, scratch)

	case classFull4:
		scratch := make([]byte, 2)

		return packShortOrFull(hash, 4, scratch)

	default: // classLong
		midLen := int(a.payload(addr, 1)[0])
		nbytes := (midLen + 1) / 2
		mid := nibblepath.FromBytes(a.payload(addr+1, nbytes), 0, midLen)

		outerScratch := make([]byte, 2)
		outer := packShortOrFull(hash, 4, outerScratch)

		full := make([]byte, outer.Len()/2+mid.Len()/2+2)

		return outer.Append(mid, full)
	}
}

// packShortOrFull reconstructs a path of the given length from a
// big-nibble-first packed bit value (as produced by encodeKey).
func packShortOrFull(bits uint16, length int, scratch []byte) nibblepath.Path {
	for i := range scratch {
		scratch[i] = 0
	}

	out := nibblepath.Empty()

	for i := 0; i < length; i++ {
		shift := uint((length - 1 - i) * 4) //nolint:gosec
		nib := byte(bits>>shift) & 0xF
		out = out.AppendNibble(nib, scratch)
	}

	return out
}

// EnumerateAll yields every live entry in slot order. yield returning
// false stops iteration early.
func (a Array) EnumerateAll(yield func(Entry) bool) {
	count := a.slotCount()
	for i := 0; i < count; i++ {
		if slotPreamble(a.slotRaw(i)) == preambleDead {
			continue
		}

		if !yield(Entry{Key: a.reconstructKey(i), Value: a.valueAt(i)}) {
			return
		}
	}
}

// EnumerateNibble yields every live entry whose first nibble equals n.
func (a Array) EnumerateNibble(n byte, yield func(Entry) bool) {
	count := a.slotCount()
	for i := 0; i < count; i++ {
		raw := a.slotRaw(i)
		if slotPreamble(raw) == preambleDead {
			continue
		}

		class := slotPreamble(raw) & classMask

		nib, ok := firstNibble(a.slotHash(i), class)
		if !ok || nib != n {
			continue
		}

		if !yield(Entry{Key: a.reconstructKey(i), Value: a.valueAt(i)}) {
			return
		}
	}
}

// GatherCountStatsFirstNibble increments stats[nibble] for every live
// entry that has at least one nibble.
func (a Array) GatherCountStatsFirstNibble(stats *[16]uint16) {
	count := a.slotCount()
	for i := 0; i < count; i++ {
		raw := a.slotRaw(i)
		if slotPreamble(raw) == preambleDead {
			continue
		}

		class := slotPreamble(raw) & classMask

		nib, ok := firstNibble(a.slotHash(i), class)
		if !ok {
			continue
		}

		stats[nib]++
	}
}

// MoveNonEmptyKeysTo migrates every live entry into dst and removes each
// migrated entry from a. If treatEmptyAsTombstone is true, entries whose
// value has zero length are deleted from dst instead of copied (used when
// promoting a leaf page's map into its overflow page, where an empty value
// marks a delete). Best-effort: an entry that does not fit in dst is
// skipped and stays in a.
func (a Array) MoveNonEmptyKeysTo(dst Array, treatEmptyAsTombstone bool) {
	var moved []nibblepath.Path

	a.EnumerateAll(func(e Entry) bool {
		if treatEmptyAsTombstone && len(e.Value) == 0 {
			dst.Delete(e.Key)
		} else if !dst.TrySet(e.Key, e.Value) {
			return true
		}

		moved = append(moved, e.Key)

		return true
	})

	for _, k := range moved {
		a.Delete(k)
	}
}
