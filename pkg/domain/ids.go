package domain

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "credrep/pkg/domain-errors"
)

// Address identifies a principal (issuer, subject, caller or admin).
// Invariant: a parsed Address is never the zero address.
type Address = common.Address

// CredentialID and ProofID are drawn from one shared ledger sequence, so a
// credential and a proof never carry the same number and creation order is
// recoverable by comparison. The first id handed out is 1.
type (
	CredentialID uint64
	ProofID      uint64
)

// RequestID correlates an asynchronous decryption with its callback.
// Zero is never issued and always means "unknown".
type RequestID uint64

// ZeroAddress is the invalid principal.
var ZeroAddress = Address{}

// ParseAddress validates a 0x-prefixed, 40 hex digit address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address must be 0x-prefixed")
	}
	if !common.IsHexAddress(s) {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address format")
	}
	addr := common.HexToAddress(s)
	if addr == ZeroAddress {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "zero address is not a valid principal")
	}
	return addr, nil
}

// IsZeroAddress reports whether addr is unset.
func IsZeroAddress(addr Address) bool {
	return addr == ZeroAddress
}

func (id CredentialID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id ProofID) String() string      { return strconv.FormatUint(uint64(id), 10) }
func (id RequestID) String() string    { return strconv.FormatUint(uint64(id), 10) }

// IsNil reports whether the id was never assigned.
func (id CredentialID) IsNil() bool { return id == 0 }
func (id ProofID) IsNil() bool      { return id == 0 }
func (id RequestID) IsNil() bool    { return id == 0 }

// ParseCredentialID parses a decimal credential id from a path segment.
func ParseCredentialID(s string) (CredentialID, error) {
	v, err := parseSequenceID(s, "credential id")
	return CredentialID(v), err
}

// ParseProofID parses a decimal proof id from a path segment.
func ParseProofID(s string) (ProofID, error) {
	v, err := parseSequenceID(s, "proof id")
	return ProofID(v), err
}

// ParseRequestID parses a decimal request id. Zero is accepted here so that
// callbacks for request 0 surface as unknown requests rather than bad input.
func ParseRequestID(s string) (RequestID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid request id")
	}
	return RequestID(v), nil
}

func parseSequenceID(s, name string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+name)
	}
	if v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be positive")
	}
	return v, nil
}
