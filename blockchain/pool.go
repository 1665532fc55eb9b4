// Package blockchain implements the in-memory block overlay (spec.md
// §4.5): multiple concurrent in-progress block states chained from the
// last finalized database snapshot, bloom-filtered chain-walking reads,
// and asynchronous finalization that drains confirmed blocks into
// pagedb through a single background flusher.
//
// Grounded on the teacher's pkg/slotcache/writer.go buffered-mutation/
// Commit pattern for a block's own set_*/commit lifecycle, generalized
// from one flat buffer to a chain of per-block slotted-array pages drawn
// from a private pool instead of the paged store.
package blockchain

import "github.com/paprikadb/paprika/page"

// pagePool is the process-private pool of fixed-size pages a block
// rents its slotted arrays from (spec.md §4.5's "pool: process-private
// page pool"), distinct from pagedb's page-addressable region: pool
// pages never reach disk and are recycled purely by capacity, not by
// copy-on-write generation.
type pagePool struct {
	free [][]byte
}

func newPagePool(capacityPages int) *pagePool {
	free := make([][]byte, capacityPages)
	for i := range free {
		free[i] = make([]byte, page.Size)
	}

	return &pagePool{free: free}
}

func (p *pagePool) rent() ([]byte, bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}

	buf := p.free[n-1]
	p.free = p.free[:n-1]

	for i := range buf {
		buf[i] = 0
	}

	return buf, true
}

func (p *pagePool) put(buf []byte) {
	p.free = append(p.free, buf)
}
