// Package page defines the fixed-size, type-tagged, batch-stamped storage
// unit spec.md §3/§4.3 calls a Page: an 8-byte header over a 4096-byte
// buffer. The header layout mirrors the teacher's SLC1 offset-table style
// in pkg/slotcache/format.go (explicit byte offsets, little-endian
// encoding/binary access) scaled down to the 8 bytes spec.md mandates.
package page

import (
	"encoding/binary"
	"fmt"
)

// Size is the fixed page size in bytes.
const Size = 4096

// HeaderSize is the fixed page header size in bytes.
const HeaderSize = 8

// Header field byte offsets within a page.
const (
	offBatchID  = 0 // uint32
	offVersion  = 4 // uint8
	offType     = 5 // uint8
	offLevel    = 6 // uint8
	offMetadata = 7 // uint8
)

// CurrentVersion is the only page-header version this build writes or
// accepts.
const CurrentVersion = 1

// Type tags the payload shape of a page.
type Type uint8

// Page type tags.
const (
	TypeFree         Type = 0 // never written to disk; zero value only in fresh buffers
	TypeRoot         Type = 1
	TypeAbandoned    Type = 2
	TypeDataPage     Type = 3
	TypeBottom       Type = 4
	TypeLeafOverflow Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeFree:
		return "Free"
	case TypeRoot:
		return "Root"
	case TypeAbandoned:
		return "Abandoned"
	case TypeDataPage:
		return "DataPage"
	case TypeBottom:
		return "Bottom"
	case TypeLeafOverflow:
		return "LeafOverflow"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Addr is a page index within the file. NULL denotes absence.
type Addr uint64

// Null is the sentinel address meaning "no page".
const Null Addr = ^Addr(0)

// Valid reports whether a is not Null.
func (a Addr) Valid() bool {
	return a != Null
}

// Page is a fixed Size-byte buffer with an 8-byte header followed by a
// type-specific payload. It is a thin view: Page never owns its backing
// bytes across a batch boundary on its own — pagedb.WriteBatch re-fetches
// the buffer by Addr on every access so that copy-on-write is always
// re-evaluated (spec.md §4.3 "every descent step re-fetches the page by
// address").
type Page struct {
	buf []byte
}

// New wraps buf (which must be exactly Size bytes) as a Page.
func New(buf []byte) Page {
	if len(buf) != Size {
		panic(fmt.Sprintf("page: buffer length %d != %d", len(buf), Size))
	}

	return Page{buf: buf}
}

// Bytes returns the full backing buffer, header included.
func (p Page) Bytes() []byte {
	return p.buf
}

// Payload returns the bytes after the header.
func (p Page) Payload() []byte {
	return p.buf[HeaderSize:]
}

// BatchID returns the batch that last made this page writable.
func (p Page) BatchID() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offBatchID:])
}

// SetBatchID stamps the page with the batch that owns it.
func (p Page) SetBatchID(id uint32) {
	binary.LittleEndian.PutUint32(p.buf[offBatchID:], id)
}

// Version returns the header format version.
func (p Page) Version() uint8 {
	return p.buf[offVersion]
}

// SetVersion sets the header format version.
func (p Page) SetVersion(v uint8) {
	p.buf[offVersion] = v
}

// Type returns the page's type tag.
func (p Page) Type() Type {
	return Type(p.buf[offType])
}

// SetType sets the page's type tag.
func (p Page) SetType(t Type) {
	p.buf[offType] = uint8(t)
}

// Level returns the page's trie level (root = 0, increasing with depth).
func (p Page) Level() uint8 {
	return p.buf[offLevel]
}

// SetLevel sets the page's trie level.
func (p Page) SetLevel(l uint8) {
	p.buf[offLevel] = l
}

// Metadata returns the small free-form metadata byte (e.g. DataPage mode:
// fan-out vs leaf).
func (p Page) Metadata() uint8 {
	return p.buf[offMetadata]
}

// SetMetadata sets the metadata byte.
func (p Page) SetMetadata(m uint8) {
	p.buf[offMetadata] = m
}

// WritableIn reports whether p is writable in the given batch, i.e. it was
// already copy-on-written (or freshly allocated) in that batch.
func (p Page) WritableIn(batchID uint32) bool {
	return p.BatchID() == batchID
}

// Clear zeroes the header and payload, then re-stamps type/batch/level.
func (p Page) Clear(batchID uint32, t Type, level uint8) {
	for i := range p.buf {
		p.buf[i] = 0
	}

	p.SetVersion(CurrentVersion)
	p.SetBatchID(batchID)
	p.SetType(t)
	p.SetLevel(level)
}

// CopyFrom overwrites p's entire buffer (header included) with src's.
// Used by copy-on-write: the destination's identity (its Addr) is kept by
// the caller, only the bytes are replaced.
func (p Page) CopyFrom(src Page) {
	copy(p.buf, src.buf)
}
