package pagedb

import (
	"encoding/binary"

	"github.com/paprikadb/paprika/page"
)

// Abandoned page payload layout: a small sub-header followed by a flat
// array of freed page addresses. Full pages chain to a continuation via
// next.
const (
	abOffCount = 0 // u32
	abOffNext  = 4 // u64, page.Null if none
	abHeader   = 12
)

func abandonedCapacity() int {
	return (page.Size - page.HeaderSize - abHeader) / 8
}

type abandonedView struct {
	p page.Page
}

func newAbandonedView(p page.Page) abandonedView {
	return abandonedView{p: p}
}

func (a abandonedView) count() int {
	return int(binary.LittleEndian.Uint32(a.p.Payload()[abOffCount:]))
}

func (a abandonedView) setCount(n int) {
	binary.LittleEndian.PutUint32(a.p.Payload()[abOffCount:], uint32(n)) //nolint:gosec
}

func (a abandonedView) next() page.Addr {
	return page.Addr(binary.LittleEndian.Uint64(a.p.Payload()[abOffNext:]))
}

func (a abandonedView) setNext(addr page.Addr) {
	binary.LittleEndian.PutUint64(a.p.Payload()[abOffNext:], uint64(addr))
}

func (a abandonedView) entry(i int) page.Addr {
	off := abHeader + i*8

	return page.Addr(binary.LittleEndian.Uint64(a.p.Payload()[off:]))
}

func (a abandonedView) setEntry(i int, addr page.Addr) {
	off := abHeader + i*8
	binary.LittleEndian.PutUint64(a.p.Payload()[off:], uint64(addr))
}

// full reports whether this page has no room for another entry.
func (a abandonedView) full() bool {
	return a.count() >= abandonedCapacity()
}

// push appends addr, returning false if the page is full.
func (a abandonedView) push(addr page.Addr) bool {
	if a.full() {
		return false
	}

	a.setEntry(a.count(), addr)
	a.setCount(a.count() + 1)

	return true
}
