package trie

import (
	"encoding/binary"

	"github.com/paprikadb/paprika/nibblepath"
	"github.com/paprikadb/paprika/page"
	"github.com/paprikadb/paprika/slottedarray"
)

// mode is the metadata byte distinguishing a data page's two operating
// shapes (spec.md §4.3).
const (
	modeFanout uint8 = 0
	modeLeaf   uint8 = 1
)

const (
	fanoutChildrenBytes = 16 * 8
	leafChildBytes      = 8
)

// nodeTypeForLevel resolves spec.md §9's open question on the DataPage
// vs Bottom page-type distinction: both share an identical payload shape
// (mode-tagged children + slottedarray.Array) and only the level-0 root
// of a trie partition is tagged DataPage; every node created below it by
// flush-down is tagged Bottom. This lets a corruption check on open
// reject a Bottom-typed page masquerading as a root, without needing a
// second payload format.
func nodeTypeForLevel(level uint8) page.Type {
	if level == 0 {
		return page.TypeDataPage
	}

	return page.TypeBottom
}

// PageReader reads a page by address without implying write access; it
// is satisfied by both pagedb.ReadBatch.PageAt and, for in-batch reads,
// a WriteBatch's GetAt.
type PageReader func(addr page.Addr) page.Page

// Allocator is the copy-on-write page allocator a write path needs. It is
// satisfied structurally by pagedb.WriteBatch.
type Allocator interface {
	GetAt(addr page.Addr) page.Page
	BatchID() uint32
	GetNewPage(clear bool) (page.Page, page.Addr)
	EnsureWritableCopy(addr *page.Addr) page.Page
	RegisterForFutureReuse(addr page.Addr)
}

// node is a thin view over a DataPage/Bottom/LeafOverflow-shaped page.
type node struct {
	p page.Page
}

func (n node) mode() uint8 { return n.p.Metadata() }

func (n node) setMode(m uint8) { n.p.SetMetadata(m) }

func (n node) childAddr(i int) page.Addr {
	off := page.HeaderSize + i*8
	return page.Addr(binary.LittleEndian.Uint64(n.p.Bytes()[off:]))
}

func (n node) setChildAddr(i int, addr page.Addr) {
	off := page.HeaderSize + i*8
	binary.LittleEndian.PutUint64(n.p.Bytes()[off:], uint64(addr))
}

func (n node) overflowAddr() page.Addr {
	return page.Addr(binary.LittleEndian.Uint64(n.p.Bytes()[page.HeaderSize:]))
}

func (n node) setOverflowAddr(addr page.Addr) {
	binary.LittleEndian.PutUint64(n.p.Bytes()[page.HeaderSize:], uint64(addr))
}

// array returns the local slotted array, whose offset depends on the
// page's current mode.
func (n node) array() slottedarray.Array {
	payload := n.p.Payload()
	if n.mode() == modeFanout {
		return slottedarray.Wrap(payload[fanoutChildrenBytes:])
	}

	return slottedarray.Wrap(payload[leafChildBytes:])
}

func initFreshNode(p page.Page, level uint8) node {
	p.SetType(nodeTypeForLevel(level))
	p.SetLevel(level)

	n := node{p: p}
	n.setMode(modeLeaf)

	for i := 0; i < 16; i++ {
		n.setChildAddr(i, page.Null)
	}

	n.setOverflowAddr(page.Null)

	// The leaf-mode array starts right after the overflow address, so its
	// 8-byte header shares bytes with child slot 1; zero it so the array
	// starts out empty.
	hdr := p.Payload()[leafChildBytes : leafChildBytes+8]
	for i := range hdr {
		hdr[i] = 0
	}

	return n
}

// Set writes key -> value rooted at *rootAddr, allocating a fresh root
// page in leaf mode if *rootAddr is page.Null. An empty value deletes.
func Set(a Allocator, rootAddr *page.Addr, key nibblepath.Path, value []byte) {
	*rootAddr = setAt(a, *rootAddr, 0, key, value)
}

func setAt(a Allocator, addr page.Addr, level uint8, key nibblepath.Path, value []byte) page.Addr {
	if !addr.Valid() {
		p, newAddr := a.GetNewPage(true)
		initFreshNode(p, level)
		addr = newAddr
	}

	p := a.EnsureWritableCopy(&addr)
	n := node{p: p}

	if n.mode() == modeFanout {
		setFanout(a, n, level, key, value)
	} else {
		setLeaf(a, n, level, key, value)
	}

	return addr
}

func setFanout(a Allocator, n node, level uint8, key nibblepath.Path, value []byte) {
	empty := len(value) == 0

	if key.IsEmpty() {
		if empty {
			n.array().Delete(key)
		} else {
			n.array().TrySet(key, value)
		}

		return
	}

	first, _ := key.FirstNibble()

	if empty {
		n.array().Delete(key)

		if child := n.childAddr(int(first)); child.Valid() {
			n.setChildAddr(int(first), setAt(a, child, level+1, key.SliceFrom(1), value))
		}

		return
	}

	for {
		child := n.childAddr(int(first))

		if child.Valid() && a.GetAt(child).BatchID() == a.BatchID() {
			n.setChildAddr(int(first), setAt(a, child, level+1, key.SliceFrom(1), value))
			return
		}

		if n.array().TrySet(key, value) {
			return
		}

		nib, ok := pickFlushNibbleWithExistingChild(n)
		if !ok {
			nib = pickMostPopulatedNibble(n)

			p, addr := a.GetNewPage(true)
			initFreshNode(p, level+1)
			n.setChildAddr(int(nib), addr)
		}

		flushNibbleDown(a, n, level, nib)
		// Retry from the top: re-check whether our own target nibble's
		// child now exists/is writable before trying the local map again.
		first, _ = key.FirstNibble()
	}
}

func pickFlushNibbleWithExistingChild(n node) (nib byte, ok bool) {
	var stats [16]uint16
	n.array().GatherCountStatsFirstNibble(&stats)

	for i := 15; i >= 0; i-- {
		if n.childAddr(i).Valid() && stats[i] > 0 {
			return byte(i), true
		}
	}

	return 0, false
}

func pickMostPopulatedNibble(n node) byte {
	var stats [16]uint16
	n.array().GatherCountStatsFirstNibble(&stats)

	best := byte(0)
	bestCount := stats[0]

	for i := 1; i < 16; i++ {
		if stats[i] > bestCount {
			bestCount = stats[i]
			best = byte(i)
		}
	}

	return best
}

func flushNibbleDown(a Allocator, n node, level uint8, nib byte) {
	var entries []slottedarray.Entry

	n.array().EnumerateNibble(nib, func(e slottedarray.Entry) bool {
		entries = append(entries, copyEntry(e))
		return true
	})

	child := n.childAddr(int(nib))

	for _, e := range entries {
		child = setAt(a, child, level+1, e.Key.SliceFrom(1), e.Value)
		n.array().Delete(e.Key)
	}

	n.setChildAddr(int(nib), child)
}

func setLeaf(a Allocator, n node, level uint8, key nibblepath.Path, value []byte) {
	empty := len(value) == 0
	overflow := n.overflowAddr()

	if empty && !overflow.Valid() {
		n.array().Delete(key)
		return
	}

	if n.array().TrySet(key, value) {
		return
	}

	var ovPage page.Page

	if !overflow.Valid() {
		p, addr := a.GetNewPage(true)
		p.SetType(page.TypeLeafOverflow)
		p.SetLevel(level + 1)
		ovPage = p
		overflow = addr
	} else {
		ovPage = a.EnsureWritableCopy(&overflow)
	}

	n.setOverflowAddr(overflow)

	ovArray := slottedarray.Wrap(ovPage.Payload())
	n.array().MoveNonEmptyKeysTo(ovArray, true)

	if n.array().TrySet(key, value) {
		return
	}

	convertLeafToFanout(a, n, level)
	setFanout(a, n, level, key, value)
}

func copyEntry(e slottedarray.Entry) slottedarray.Entry {
	return slottedarray.Entry{Key: e.Key, Value: append([]byte(nil), e.Value...)}
}

// convertLeafToFanout replays every entry currently reachable from a
// leaf-mode node (its local map plus its overflow page, local taking
// precedence on conflict) through the general fan-out Set path. This is
// equivalent to spec.md's literal "pick the most-populated nibble and
// create one fresh leaf child" recipe: that is exactly what setFanout's
// own capacity-exhaustion branch already does, so replaying avoids a
// second, parallel implementation of the same selection policy.
func convertLeafToFanout(a Allocator, n node, level uint8) {
	var entries []slottedarray.Entry

	localKeys := make(map[string]bool)

	n.array().EnumerateAll(func(e slottedarray.Entry) bool {
		entries = append(entries, copyEntry(e))
		localKeys[e.Key.String()] = true

		return true
	})

	if ovAddr := n.overflowAddr(); ovAddr.Valid() {
		ovArray := slottedarray.Wrap(a.GetAt(ovAddr).Payload())
		ovArray.EnumerateAll(func(e slottedarray.Entry) bool {
			if !localKeys[e.Key.String()] {
				entries = append(entries, copyEntry(e))
			}

			return true
		})

		a.RegisterForFutureReuse(ovAddr)
	}

	t := n.p.Type()
	n.p.Clear(a.BatchID(), t, level)
	n.setMode(modeFanout)

	for i := 0; i < 16; i++ {
		n.setChildAddr(i, page.Null)
	}

	for _, e := range entries {
		setFanout(a, n, level, e.Key, e.Value)
	}
}

// TryGet looks up key rooted at root, reading pages via read.
func TryGet(read PageReader, root page.Addr, key nibblepath.Path) ([]byte, bool) {
	addr := root

	for addr.Valid() {
		n := node{p: read(addr)}

		if v, ok := n.array().TryGet(key); ok {
			if len(v) == 0 {
				// A leaf with an overflow page keeps deletes as empty values.
				return nil, false
			}

			return v, true
		}

		if n.mode() == modeLeaf {
			ov := n.overflowAddr()
			if !ov.Valid() {
				return nil, false
			}

			return node{p: read(ov)}.array().TryGet(key)
		}

		if key.IsEmpty() {
			return nil, false
		}

		first, _ := key.FirstNibble()

		child := n.childAddr(int(first))
		if !child.Valid() {
			return nil, false
		}

		addr = child
		key = key.SliceFrom(1)
	}

	return nil, false
}

// DeleteByPrefix deletes every key starting with prefix, rooted at
// *rootAddr.
func DeleteByPrefix(a Allocator, rootAddr *page.Addr, prefix nibblepath.Path) {
	if !rootAddr.Valid() {
		return
	}

	*rootAddr = deleteByPrefixAt(a, *rootAddr, 0, prefix)
}

func deleteByPrefixAt(a Allocator, addr page.Addr, level uint8, prefix nibblepath.Path) page.Addr {
	if !addr.Valid() {
		return addr
	}

	p := a.EnsureWritableCopy(&addr)
	n := node{p: p}

	if n.mode() == modeLeaf {
		if ov := n.overflowAddr(); ov.Valid() {
			ovAddr := ov
			ovPage := a.EnsureWritableCopy(&ovAddr)
			deleteMatchingPrefix(slottedarray.Wrap(ovPage.Payload()), prefix)
			n.setOverflowAddr(ovAddr)
		}

		deleteMatchingPrefix(n.array(), prefix)

		return addr
	}

	if prefix.IsEmpty() {
		for i := 0; i < 16; i++ {
			if c := n.childAddr(i); c.Valid() {
				n.setChildAddr(i, deleteByPrefixAt(a, c, level+1, prefix))
			}
		}
	} else {
		first, _ := prefix.FirstNibble()
		if c := n.childAddr(int(first)); c.Valid() {
			n.setChildAddr(int(first), deleteByPrefixAt(a, c, level+1, prefix.SliceFrom(1)))
		}
	}

	deleteMatchingPrefix(n.array(), prefix)

	return addr
}

func deleteMatchingPrefix(arr slottedarray.Array, prefix nibblepath.Path) {
	var toDelete []nibblepath.Path

	arr.EnumerateAll(func(e slottedarray.Entry) bool {
		if keyHasPrefix(e.Key, prefix) {
			toDelete = append(toDelete, e.Key)
		}

		return true
	})

	for _, k := range toDelete {
		arr.Delete(k)
	}
}

func keyHasPrefix(key, prefix nibblepath.Path) bool {
	if prefix.Len() > key.Len() {
		return false
	}

	return key.SliceTo(prefix.Len()).Equals(prefix)
}

// Clear resets a node to an empty leaf-mode page: its local slotted array
// is empty and its child and overflow addresses are page.Null.
func Clear(p page.Page) {
	t := p.Type()
	level := p.Level()
	batch := p.BatchID()

	p.Clear(batch, t, level)
	initFreshNode(p, level)
}
