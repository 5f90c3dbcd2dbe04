// Package local is an in-process stand-in for an external FHE coprocessor.
// Plaintexts live only in the ciphertext Store, keyed by handle; callers see
// nothing but handles. Handles for trivial encryptions and operation results are
// derived with keccak256 from their inputs, so repeating a computation yields
// bit-identical ciphertexts.
package local

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/crypto"

	"credrep/internal/fhe"
)

// Entry is the plaintext behind a handle.
type Entry struct {
	Type  fhe.EncryptedType
	Value uint64
}

// Store persists handle -> plaintext entries.
// Get returns sentinel.ErrNotFound for unknown handles.
type Store interface {
	Put(ctx context.Context, h fhe.Handle, e Entry) error
	Get(ctx context.Context, h fhe.Handle) (Entry, error)
}

type opcode byte

const (
	opTrivial opcode = iota + 1
	opInput
	opAdd
	opSub
	opMul
	opDiv
	opGt
	opGte
	opEq
	opNe
	opAnd
	opSelect
)

// Coprocessor implements fhe.Engine and fhe.Decrypter.
type Coprocessor struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Coprocessor)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coprocessor) {
		c.logger = logger
	}
}

// New constructs a Coprocessor over store.
func New(store Store, opts ...Option) (*Coprocessor, error) {
	if store == nil {
		return nil, fmt.Errorf("ciphertext store is required")
	}
	c := &Coprocessor{store: store}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

var (
	_ fhe.Engine    = (*Coprocessor)(nil)
	_ fhe.Decrypter = (*Coprocessor)(nil)
)

// Encrypt mints a fresh input ciphertext. Each call draws a random nonce, so
// equal plaintexts get unrelated handles.
func (c *Coprocessor) Encrypt(ctx context.Context, t fhe.EncryptedType, v uint64) (fhe.Ciphertext, error) {
	if !t.Valid() {
		return fhe.Ciphertext{}, fhe.ErrUnknownType
	}
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("draw input nonce: %w", err)
	}
	h := deriveHandle(opInput, t, nonce[:])
	return c.put(ctx, h, t, v)
}

// Trivial encrypts a public constant deterministically.
func (c *Coprocessor) Trivial(ctx context.Context, t fhe.EncryptedType, v uint64) (fhe.Ciphertext, error) {
	if !t.Valid() {
		return fhe.Ciphertext{}, fhe.ErrUnknownType
	}
	v &= t.MaxValue()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h := deriveHandle(opTrivial, t, buf[:])
	return c.put(ctx, h, t, v)
}

func (c *Coprocessor) Add(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.arith(ctx, opAdd, a, b, func(x, y uint64) uint64 { return x + y })
}

func (c *Coprocessor) Sub(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.arith(ctx, opSub, a, b, func(x, y uint64) uint64 { return x - y })
}

func (c *Coprocessor) Mul(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.arith(ctx, opMul, a, b, func(x, y uint64) uint64 { return x * y })
}

func (c *Coprocessor) Div(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	maxValue := a.Type.MaxValue()
	return c.arith(ctx, opDiv, a, b, func(x, y uint64) uint64 {
		if y == 0 {
			return maxValue
		}
		return x / y
	})
}

func (c *Coprocessor) Gt(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.compare(ctx, opGt, a, b, func(x, y uint64) bool { return x > y })
}

func (c *Coprocessor) Gte(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.compare(ctx, opGte, a, b, func(x, y uint64) bool { return x >= y })
}

func (c *Coprocessor) Eq(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.compare(ctx, opEq, a, b, func(x, y uint64) bool { return x == y })
}

func (c *Coprocessor) Ne(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return c.compare(ctx, opNe, a, b, func(x, y uint64) bool { return x != y })
}

func (c *Coprocessor) And(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	if a.Type != fhe.EBool || b.Type != fhe.EBool {
		return fhe.Ciphertext{}, fmt.Errorf("%w: and requires ebool operands", fhe.ErrTypeMismatch)
	}
	return c.arith(ctx, opAnd, a, b, func(x, y uint64) uint64 { return x & y })
}

// Select returns ifTrue's value when cond decrypts to 1, else ifFalse's.
func (c *Coprocessor) Select(ctx context.Context, cond, ifTrue, ifFalse fhe.Ciphertext) (fhe.Ciphertext, error) {
	if cond.Type != fhe.EBool {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select condition must be ebool", fhe.ErrTypeMismatch)
	}
	if ifTrue.Type != ifFalse.Type {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select branches %s and %s", fhe.ErrTypeMismatch, ifTrue.Type, ifFalse.Type)
	}
	cv, err := c.load(ctx, cond)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	tv, err := c.load(ctx, ifTrue)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	fv, err := c.load(ctx, ifFalse)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	out := fv
	if cv == 1 {
		out = tv
	}
	h := deriveHandle(opSelect, ifTrue.Type, cond.Handle[:], ifTrue.Handle[:], ifFalse.Handle[:])
	return c.put(ctx, h, ifTrue.Type, out)
}

// Decrypt reveals the plaintext behind c.
func (c *Coprocessor) Decrypt(ctx context.Context, ct fhe.Ciphertext) (uint64, error) {
	return c.load(ctx, ct)
}

func (c *Coprocessor) arith(ctx context.Context, op opcode, a, b fhe.Ciphertext, fn func(x, y uint64) uint64) (fhe.Ciphertext, error) {
	if a.Type != b.Type {
		return fhe.Ciphertext{}, fmt.Errorf("%w: %s and %s", fhe.ErrTypeMismatch, a.Type, b.Type)
	}
	x, y, err := c.loadPair(ctx, a, b)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	h := deriveHandle(op, a.Type, a.Handle[:], b.Handle[:])
	return c.put(ctx, h, a.Type, fn(x, y)&a.Type.MaxValue())
}

func (c *Coprocessor) compare(ctx context.Context, op opcode, a, b fhe.Ciphertext, fn func(x, y uint64) bool) (fhe.Ciphertext, error) {
	if a.Type != b.Type {
		return fhe.Ciphertext{}, fmt.Errorf("%w: %s and %s", fhe.ErrTypeMismatch, a.Type, b.Type)
	}
	x, y, err := c.loadPair(ctx, a, b)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	var out uint64
	if fn(x, y) {
		out = 1
	}
	h := deriveHandle(op, a.Type, a.Handle[:], b.Handle[:])
	return c.put(ctx, h, fhe.EBool, out)
}

func (c *Coprocessor) loadPair(ctx context.Context, a, b fhe.Ciphertext) (uint64, uint64, error) {
	x, err := c.load(ctx, a)
	if err != nil {
		return 0, 0, err
	}
	y, err := c.load(ctx, b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func (c *Coprocessor) load(ctx context.Context, ct fhe.Ciphertext) (uint64, error) {
	if ct.IsZero() {
		return 0, fmt.Errorf("%w: zero handle", fhe.ErrInvalidCiphertext)
	}
	e, err := c.store.Get(ctx, ct.Handle)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %w", fhe.ErrInvalidCiphertext, ct.Handle.Hex(), err)
	}
	if e.Type != ct.Type {
		return 0, fmt.Errorf("%w: handle holds %s, referenced as %s", fhe.ErrTypeMismatch, e.Type, ct.Type)
	}
	return e.Value, nil
}

func (c *Coprocessor) put(ctx context.Context, h fhe.Handle, t fhe.EncryptedType, v uint64) (fhe.Ciphertext, error) {
	if err := c.store.Put(ctx, h, Entry{Type: t, Value: v & t.MaxValue()}); err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("store ciphertext: %w", err)
	}
	return fhe.Ciphertext{Type: t, Handle: h}, nil
}

func deriveHandle(op opcode, t fhe.EncryptedType, parts ...[]byte) fhe.Handle {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte{byte(op), byte(t)})
	data = append(data, parts...)
	return fhe.Handle(crypto.Keccak256Hash(data...))
}
