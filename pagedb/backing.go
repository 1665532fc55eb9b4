package pagedb

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	natomic "github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"github.com/paprikadb/paprika/errs"
	"github.com/paprikadb/paprika/page"
)

// backing is the byte-addressable, page-granular region a Db is built
// over: either an anonymous in-process buffer (OpenMemory) or a
// memory-mapped file (Open), mirroring the split the teacher's pkg/fs
// draws between a File abstraction and a production os-backed
// implementation, narrowed here to exactly what PagedDb needs: pages in,
// pages out, grow, and flush.
type backing interface {
	pageAt(addr page.Addr) page.Page
	pageCount() uint64
	grow(toPageCount uint64) error
	flushData() error
	flushRoot() error
	close() error
}

// memBacking is a heap-allocated backing store for OpenMemory. There is
// nothing to flush; durability is not offered.
type memBacking struct {
	buf []byte
	cap uint64 // capacity in pages, fixed at construction
}

func newMemBacking(sizeBytes int) *memBacking {
	n := sizeBytes / page.Size
	return &memBacking{buf: make([]byte, n*page.Size), cap: uint64(n)} //nolint:gosec
}

func (m *memBacking) pageAt(addr page.Addr) page.Page {
	off := uint64(addr) * page.Size
	return page.New(m.buf[off : off+page.Size])
}

func (m *memBacking) pageCount() uint64 { return uint64(len(m.buf)) / page.Size }

func (m *memBacking) grow(toPageCount uint64) error {
	if toPageCount > m.cap {
		return fmt.Errorf("pagedb: memory backing exhausted at %d pages: %w", m.cap, errs.ErrIoFailure)
	}

	if need := toPageCount * page.Size; uint64(len(m.buf)) < need {
		m.buf = m.buf[:need]
	}

	return nil
}

func (m *memBacking) flushData() error { return nil }
func (m *memBacking) flushRoot() error  { return nil }
func (m *memBacking) close() error      { return nil }

// fileBacking is a memory-mapped, file-backed store for Open (persistent
// mode). It uses edsrzf/mmap-go for the mapping, golang.org/x/sys/unix for
// the interprocess exclusive lock and fsync/fdatasync, and
// natefinch/atomic to create the initial file content atomically so a
// crash mid-bootstrap never leaves a half-written file at the final path.
type fileBacking struct {
	f   *os.File
	mm  mmap.MMap
	cap uint64 // capacity in pages, fixed at construction (max_size_bytes)
}

func openFileBacking(path string, maxSizeBytes int64, maxReorgDepth uint32) (*fileBacking, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := bootstrapFile(path, maxReorgDepth); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("pagedb: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pagedb: %s is locked by another process: %w", path, errs.ErrBusy)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagedb: stat %s: %w", path, err)
	}

	if info.Size() < maxSizeBytes {
		if err := f.Truncate(maxSizeBytes); err != nil {
			f.Close()
			return nil, fmt.Errorf("pagedb: truncate %s: %w", path, err)
		}
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagedb: mmap %s: %w", path, err)
	}

	return &fileBacking{f: f, mm: mm, cap: uint64(maxSizeBytes) / page.Size}, nil
}

// bootstrapFile atomically creates path with ringSlots(max_reorg_depth)
// zeroed, checksummed root pages, leaving the rest of the address space to
// be truncated into existence on open.
func bootstrapFile(path string, maxReorgDepth uint32) error {
	n := ringSlots(maxReorgDepth)
	buf := make([]byte, int(n)*page.Size)

	for i := uint32(0); i < n; i++ {
		p := page.New(buf[int(i)*page.Size : int(i+1)*page.Size])
		p.Clear(0, page.TypeRoot, 0)

		v := newRootView(p)
		v.setRootAddr(page.Null)
		v.setAbandonedHead(page.Null)
		v.setPageWatermark(uint64(n))
		v.storeChecksum()
	}

	if err := natomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("pagedb: bootstrap %s: %w", path, err)
	}

	return nil
}

func (fb *fileBacking) pageAt(addr page.Addr) page.Page {
	off := uint64(addr) * page.Size
	return page.New(fb.mm[off : off+page.Size])
}

func (fb *fileBacking) pageCount() uint64 { return uint64(len(fb.mm)) / page.Size }

func (fb *fileBacking) grow(toPageCount uint64) error {
	if toPageCount > fb.cap {
		return fmt.Errorf("pagedb: file backing exceeds max_size_bytes at %d pages: %w", fb.cap, errs.ErrIoFailure)
	}

	return nil // file was pre-truncated to capacity at open time.
}

func (fb *fileBacking) flushData() error {
	if err := fb.mm.Flush(); err != nil {
		return fmt.Errorf("pagedb: msync: %w", errs.ErrIoFailure)
	}

	if err := unix.Fdatasync(int(fb.f.Fd())); err != nil {
		return fmt.Errorf("pagedb: fdatasync: %w", errs.ErrIoFailure)
	}

	return nil
}

func (fb *fileBacking) flushRoot() error {
	return fb.flushData()
}

func (fb *fileBacking) close() error {
	if err := fb.mm.Unmap(); err != nil {
		return fmt.Errorf("pagedb: munmap: %w", errs.ErrIoFailure)
	}

	return fb.f.Close()
}
