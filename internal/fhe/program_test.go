package fhe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credrep/internal/fhe"
	"credrep/internal/fhe/local"
)

func newProgram(t *testing.T) (*fhe.Program, *local.Coprocessor) {
	t.Helper()
	cp, err := local.New(local.NewInMemoryStore())
	require.NoError(t, err)
	return fhe.NewProgram(context.Background(), cp), cp
}

func decrypt(t *testing.T, cp *local.Coprocessor, c fhe.Ciphertext) uint64 {
	t.Helper()
	v, err := cp.Decrypt(context.Background(), c)
	require.NoError(t, err)
	return v
}

func TestProgramFormulas(t *testing.T) {
	p, cp := newProgram(t)

	a, b := p.Encrypt(fhe.EUint32, 80), p.Encrypt(fhe.EUint32, 60)
	require.NoError(t, p.Err())

	assert.Equal(t, uint64(80), decrypt(t, cp, p.Max(a, b)))
	assert.Equal(t, uint64(60), decrypt(t, cp, p.Min(a, b)))
	assert.Equal(t, uint64(70), decrypt(t, cp, p.Div(p.Add(a, b), p.Const(2))))
	assert.Equal(t, uint64(140), decrypt(t, cp, p.DivFloor1(p.Add(a, b), p.Const(0))), "zero denominator is floored at 1")
	require.NoError(t, p.Err())
}

func TestProgramStopsAtFirstError(t *testing.T) {
	p, _ := newProgram(t)

	bogus := fhe.Ciphertext{Type: fhe.EUint32, Handle: fhe.Handle{0xde, 0xad}}
	one := p.Const(1)
	got := p.Add(bogus, one)
	require.Error(t, p.Err())
	first := p.Err()

	assert.Equal(t, bogus, p.Mul(got, one), "later calls pass their first operand through")
	assert.Equal(t, first, p.Err())
}
