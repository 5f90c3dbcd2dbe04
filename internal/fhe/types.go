// Package fhe defines the encrypted-value vocabulary shared by the ledger and
// the injected arithmetic engine: encrypted types, opaque ciphertext handles and
// the Engine port every service computes through.
package fhe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// EncryptedType represents the type of an encrypted value.
type EncryptedType uint8

const (
	// EBool represents an encrypted boolean
	EBool EncryptedType = iota
	// EUint8 represents an encrypted 8-bit unsigned integer
	EUint8
	// EUint16 represents an encrypted 16-bit unsigned integer
	EUint16
	// EUint32 represents an encrypted 32-bit unsigned integer
	EUint32
	// EUint64 represents an encrypted 64-bit unsigned integer
	EUint64
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTypeMismatch      = errors.New("ciphertext type mismatch")
	ErrInvalidCiphertext = errors.New("invalid ciphertext handle")
	ErrUnknownType       = errors.New("unknown encrypted type")
)

// String returns the string representation of the encrypted type.
func (t EncryptedType) String() string {
	switch t {
	case EBool:
		return "ebool"
	case EUint8:
		return "euint8"
	case EUint16:
		return "euint16"
	case EUint32:
		return "euint32"
	case EUint64:
		return "euint64"
	default:
		return "unknown"
	}
}

// BitSize returns the bit size of the encrypted type.
func (t EncryptedType) BitSize() int {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 8
	case EUint16:
		return 16
	case EUint32:
		return 32
	case EUint64:
		return 64
	default:
		return 0
	}
}

// MaxValue returns the maximum plaintext for the encrypted type.
func (t EncryptedType) MaxValue() uint64 {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 1<<8 - 1
	case EUint16:
		return 1<<16 - 1
	case EUint32:
		return 1<<32 - 1
	case EUint64:
		return ^uint64(0)
	default:
		return 0
	}
}

// Valid reports whether t is a supported type.
func (t EncryptedType) Valid() bool {
	return t <= EUint64
}

// ParseEncryptedType parses the String form.
func ParseEncryptedType(s string) (EncryptedType, error) {
	for t := EBool; t <= EUint64; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Handle is the opaque identifier of a ciphertext held by the engine.
type Handle [32]byte

// Hex returns the 0x-prefixed hex form.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Ciphertext is a typed reference to an encrypted value. It carries no
// plaintext; only the engine that minted it can operate on it.
type Ciphertext struct {
	Type   EncryptedType
	Handle Handle
}

// IsZero reports whether c was never assigned.
func (c Ciphertext) IsZero() bool {
	return c.Handle == Handle{}
}

func (c Ciphertext) String() string {
	return c.Type.String() + ":" + c.Handle.Hex()
}

// MarshalText encodes c as "<type>:0x<handle>".
func (c Ciphertext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses the MarshalText form.
func (c *Ciphertext) UnmarshalText(b []byte) error {
	typ, hexHandle, ok := strings.Cut(string(b), ":")
	if !ok {
		return fmt.Errorf("%w: missing type prefix", ErrInvalidCiphertext)
	}
	t, err := ParseEncryptedType(typ)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(hexHandle, "0x"))
	if err != nil || len(raw) != len(Handle{}) {
		return fmt.Errorf("%w: bad handle encoding", ErrInvalidCiphertext)
	}
	c.Type = t
	copy(c.Handle[:], raw)
	return nil
}

// MarshalBinary encodes c as [type][32-byte handle].
func (c Ciphertext) MarshalBinary() ([]byte, error) {
	out := make([]byte, 1+len(c.Handle))
	out[0] = byte(c.Type)
	copy(out[1:], c.Handle[:])
	return out, nil
}

// UnmarshalBinary parses the MarshalBinary form.
func (c *Ciphertext) UnmarshalBinary(b []byte) error {
	if len(b) != 1+len(Handle{}) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidCiphertext, 1+len(Handle{}), len(b))
	}
	t := EncryptedType(b[0])
	if !t.Valid() {
		return ErrUnknownType
	}
	c.Type = t
	copy(c.Handle[:], b[1:])
	return nil
}
