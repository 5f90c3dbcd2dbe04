package oracle

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ParseSignerKeys parses hex-encoded secp256k1 private keys. When none are
// configured, n fresh keys are generated; those only make sense for a single
// process where oracle and verifier share memory.
func ParseSignerKeys(hexKeys []string, n int) ([]*ecdsa.PrivateKey, error) {
	var keys []*ecdsa.PrivateKey
	for _, h := range hexKeys {
		h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
		if h == "" {
			continue
		}
		k, err := crypto.HexToECDSA(h)
		if err != nil {
			return nil, fmt.Errorf("parse oracle signer key: %w", err)
		}
		keys = append(keys, k)
	}
	if len(keys) > 0 {
		return keys, nil
	}
	for range n {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate oracle signer key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
