package trie

import (
	"encoding/binary"

	"github.com/holiman/uint256"
)

// accountEncodedLen is the fixed wire size of an Account: nonce (8) +
// balance (32, big-endian) + code hash (32). Merkle hashing and RLP are
// out of scope (spec.md §1); this is Paprika's own on-disk value shape.
const accountEncodedLen = 8 + 32 + 32

// Account is the value stored at an Account-tagged trie key.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash [32]byte
}

// EncodeAccount serializes a into a freshly allocated buffer.
func EncodeAccount(a Account) []byte {
	return a.Encode(make([]byte, accountEncodedLen))
}

// Encode serializes a into dst, which must be at least
// accountEncodedLen bytes, and returns the bytes written.
func (a Account) Encode(dst []byte) []byte {
	out := dst[:accountEncodedLen]

	binary.LittleEndian.PutUint64(out[0:8], a.Nonce)

	balance := a.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}

	b32 := balance.Bytes32()
	copy(out[8:40], b32[:])
	copy(out[40:72], a.CodeHash[:])

	return out
}

// DecodeAccount parses an Account previously written by Encode.
func DecodeAccount(b []byte) (Account, bool) {
	if len(b) != accountEncodedLen {
		return Account{}, false
	}

	var a Account
	a.Nonce = binary.LittleEndian.Uint64(b[0:8])
	a.Balance = new(uint256.Int).SetBytes32(b[8:40])
	copy(a.CodeHash[:], b[40:72])

	return a, true
}
