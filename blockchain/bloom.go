package blockchain

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"

	"github.com/paprikadb/paprika/nibblepath"
)

// bloomExpectedKeys sizes each block's bloom filter for NewOptimal; a
// block holding far more distinct keys than this only degrades the
// filter's false-positive rate, it never drops a true membership.
const bloomExpectedKeys = 4096

const bloomFalsePositiveRate = 0.01

func newBloom() *bloomfilter.Filter {
	f, err := bloomfilter.NewOptimal(bloomExpectedKeys, bloomFalsePositiveRate)
	if err != nil {
		// NewOptimal only fails for invalid (n, p) inputs, both constants
		// above and fixed at compile time.
		panic(err)
	}

	return f
}

// keyHash64 is a hash.Hash64 adapter over a precomputed 64-bit digest,
// letting a plain uint64 stand in for bloomfilter.Filter's expected
// hash.Hash64 entries.
type keyHash64 uint64

func (keyHash64) Write(p []byte) (int, error) { return len(p), nil }
func (keyHash64) Reset()                      {}
func (keyHash64) Size() int                   { return 8 }
func (keyHash64) BlockSize() int              { return 1 }
func (k keyHash64) Sum64() uint64             { return uint64(k) }

func (k keyHash64) Sum(b []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(k))

	return append(b, buf[:]...)
}

// bloomKey hashes key canonically (alignment-independent, via Pack)
// so that two Paths over the same nibbles always probe the same bit.
func bloomKey(key nibblepath.Path) keyHash64 {
	scratch := make([]byte, key.Len()/2+1)
	packed := key.Pack(scratch)

	buf := make([]byte, packed.EncodedLen())
	packed.WriteTo(buf)

	h := fnv.New64a()
	h.Write(buf) //nolint:errcheck // fnv's Write never errors

	return keyHash64(h.Sum64())
}
