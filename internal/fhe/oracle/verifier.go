package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
)

// SignatureSize is the length of one recoverable secp256k1 signature.
const SignatureSize = crypto.SignatureLength

var ErrInvalidAttestation = errors.New("invalid attestation")

// Verifier checks that an attestation carries signatures from at least
// threshold distinct trusted signers over Digest(requestID, handles, cleartexts).
type Verifier struct {
	trusted   map[common.Address]struct{}
	threshold int
}

// NewVerifier builds a Verifier. threshold must be between 1 and len(signers).
func NewVerifier(signers []common.Address, threshold int) (*Verifier, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("at least one trusted signer is required")
	}
	if threshold < 1 || threshold > len(signers) {
		return nil, fmt.Errorf("threshold %d out of range for %d signers", threshold, len(signers))
	}
	trusted := make(map[common.Address]struct{}, len(signers))
	for _, s := range signers {
		trusted[s] = struct{}{}
	}
	return &Verifier{trusted: trusted, threshold: threshold}, nil
}

// Verify returns ErrInvalidAttestation (wrapped) unless enough trusted signers
// signed exactly this request id, handle list and cleartext blob.
func (v *Verifier) Verify(requestID id.RequestID, handles []fhe.Ciphertext, cleartexts, attestation []byte) error {
	if len(attestation) == 0 || len(attestation)%SignatureSize != 0 {
		return fmt.Errorf("%w: bad signature blob length %d", ErrInvalidAttestation, len(attestation))
	}
	digest := Digest(requestID, handles, cleartexts)
	seen := make(map[common.Address]struct{})
	for off := 0; off < len(attestation); off += SignatureSize {
		pub, err := crypto.SigToPub(digest, attestation[off:off+SignatureSize])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAttestation, err)
		}
		signer := crypto.PubkeyToAddress(*pub)
		if _, ok := v.trusted[signer]; !ok {
			return fmt.Errorf("%w: untrusted signer %s", ErrInvalidAttestation, signer.Hex())
		}
		seen[signer] = struct{}{}
	}
	if len(seen) < v.threshold {
		return fmt.Errorf("%w: %d of %d required signers", ErrInvalidAttestation, len(seen), v.threshold)
	}
	return nil
}
