package fhe

import "context"

// Engine performs arithmetic and comparisons over ciphertexts without exposing
// plaintexts. Comparisons return EBool ciphertexts; Select is the only way to
// branch on one.
//
// Div truncates. Division by an encrypted zero yields the type's maximum value,
// so callers floor denominators at 1 with Select before dividing.
//
// Trivial encryptions and operation results are deterministic: the same inputs
// always yield the same handle. Encrypt is randomized, so two encryptions of
// the same value are distinct handles.
type Engine interface {
	Encrypt(ctx context.Context, t EncryptedType, v uint64) (Ciphertext, error)
	Trivial(ctx context.Context, t EncryptedType, v uint64) (Ciphertext, error)

	Add(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Sub(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Mul(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Div(ctx context.Context, a, b Ciphertext) (Ciphertext, error)

	Gt(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Gte(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Eq(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	Ne(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	And(ctx context.Context, a, b Ciphertext) (Ciphertext, error)

	Select(ctx context.Context, cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error)
}

// Decrypter reveals plaintexts. Only the decryption oracle and tests hold one.
type Decrypter interface {
	Decrypt(ctx context.Context, c Ciphertext) (uint64, error)
}
