package pagedb

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/paprikadb/paprika/page"
)

// Root page payload layout (resolves spec.md §9's open question on root
// field ordering and checksum choice; documented in DESIGN.md). The common
// 8-byte page header already carries batch_id, so the payload only adds
// what's specific to a root slot.
const (
	rootOffBlockNumber   = 0  // u32
	rootOffBlockHash     = 4  // 32 bytes
	rootOffRootAddr      = 36 // u64
	rootOffAbandonedHead = 44 // u64
	rootOffPageWatermark = 52 // u64
	rootOffChecksum      = 60 // u32, CRC32-C over the page header and payload bytes [0,60)
	rootPayloadUsed      = 64
)

var rootCastagnoli = crc32.MakeTable(crc32.Castagnoli)

// rootView decodes and encodes a root page's payload fields.
type rootView struct {
	p page.Page
}

func newRootView(p page.Page) rootView {
	return rootView{p: p}
}

func (r rootView) batchID() uint32 { return r.p.BatchID() }

func (r rootView) blockNumber() uint32 {
	return binary.LittleEndian.Uint32(r.p.Payload()[rootOffBlockNumber:])
}

func (r rootView) setBlockNumber(n uint32) {
	binary.LittleEndian.PutUint32(r.p.Payload()[rootOffBlockNumber:], n)
}

func (r rootView) blockHash() [32]byte {
	var h [32]byte
	copy(h[:], r.p.Payload()[rootOffBlockHash:rootOffBlockHash+32])

	return h
}

func (r rootView) setBlockHash(h [32]byte) {
	copy(r.p.Payload()[rootOffBlockHash:rootOffBlockHash+32], h[:])
}

func (r rootView) rootAddr() page.Addr {
	return page.Addr(binary.LittleEndian.Uint64(r.p.Payload()[rootOffRootAddr:]))
}

func (r rootView) setRootAddr(a page.Addr) {
	binary.LittleEndian.PutUint64(r.p.Payload()[rootOffRootAddr:], uint64(a))
}

func (r rootView) abandonedHead() page.Addr {
	return page.Addr(binary.LittleEndian.Uint64(r.p.Payload()[rootOffAbandonedHead:]))
}

func (r rootView) setAbandonedHead(a page.Addr) {
	binary.LittleEndian.PutUint64(r.p.Payload()[rootOffAbandonedHead:], uint64(a))
}

func (r rootView) pageWatermark() uint64 {
	return binary.LittleEndian.Uint64(r.p.Payload()[rootOffPageWatermark:])
}

func (r rootView) setPageWatermark(n uint64) {
	binary.LittleEndian.PutUint64(r.p.Payload()[rootOffPageWatermark:], n)
}

func (r rootView) computeChecksum() uint32 {
	return crc32.Checksum(r.p.Bytes()[:page.HeaderSize+rootOffChecksum], rootCastagnoli)
}

func (r rootView) storeChecksum() {
	binary.LittleEndian.PutUint32(r.p.Payload()[rootOffChecksum:], r.computeChecksum())
}

func (r rootView) validChecksum() bool {
	stored := binary.LittleEndian.Uint32(r.p.Payload()[rootOffChecksum:])

	return stored == r.computeChecksum()
}

// valid reports whether this slot holds a plausible, checksum-verified root
// (as opposed to a freshly zeroed, never-written slot).
func (r rootView) valid() bool {
	return r.p.Type() == page.TypeRoot && r.validChecksum()
}
