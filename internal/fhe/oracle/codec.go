package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
)

// WordSize is the width of one encoded cleartext.
const WordSize = 32

var ErrMalformedCleartexts = errors.New("malformed cleartexts")

// EncodeCleartexts packs values as consecutive 32-byte big-endian words.
func EncodeCleartexts(values []uint64) []byte {
	out := make([]byte, 0, len(values)*WordSize)
	for _, v := range values {
		word := uint256.NewInt(v).Bytes32()
		out = append(out, word[:]...)
	}
	return out
}

// DecodeCleartexts unpacks exactly n words. Values wider than 64 bits are rejected.
func DecodeCleartexts(raw []byte, n int) ([]uint64, error) {
	if len(raw) != n*WordSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedCleartexts, n*WordSize, len(raw))
	}
	out := make([]uint64, n)
	for i := range n {
		var word uint256.Int
		word.SetBytes32(raw[i*WordSize : (i+1)*WordSize])
		if !word.IsUint64() {
			return nil, fmt.Errorf("%w: word %d overflows uint64", ErrMalformedCleartexts, i)
		}
		out[i] = word.Uint64()
	}
	return out, nil
}

// Digest is the message every oracle signer signs:
// keccak256(uint256(requestID) || type||handle ... || cleartexts).
// Binding the handles ties a delivery to the ciphertexts that were submitted,
// not just to a request id.
func Digest(requestID id.RequestID, handles []fhe.Ciphertext, cleartexts []byte) []byte {
	reqWord := uint256.NewInt(uint64(requestID)).Bytes32()
	parts := make([][]byte, 0, len(handles)+2)
	parts = append(parts, reqWord[:])
	for _, h := range handles {
		b, _ := h.MarshalBinary()
		parts = append(parts, b)
	}
	parts = append(parts, cleartexts)
	return crypto.Keccak256(parts...)
}
