package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"credrep/internal/fhe"
)

// =============================================================================
// Coprocessor Test Suite
// =============================================================================
// Justification: the coprocessor is the arithmetic every reputation value flows
// through. Tests pin wrap-around, division and handle determinism, which the
// recomputation idempotence guarantee depends on.

type CoprocessorSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
	cp    *Coprocessor
}

func TestCoprocessorSuite(t *testing.T) {
	suite.Run(t, new(CoprocessorSuite))
}

func (s *CoprocessorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	cp, err := New(s.store)
	s.Require().NoError(err)
	s.cp = cp
}

func (s *CoprocessorSuite) enc(v uint64) fhe.Ciphertext {
	c, err := s.cp.Encrypt(s.ctx, fhe.EUint32, v)
	s.Require().NoError(err)
	return c
}

func (s *CoprocessorSuite) dec(c fhe.Ciphertext) uint64 {
	v, err := s.cp.Decrypt(s.ctx, c)
	s.Require().NoError(err)
	return v
}

func (s *CoprocessorSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "ciphertext store is required")
	})
}

func (s *CoprocessorSuite) TestArithmetic() {
	s.Run("add mul sub div", func() {
		a, b := s.enc(80), s.enc(3)
		sum, err := s.cp.Add(s.ctx, a, b)
		s.Require().NoError(err)
		s.Equal(uint64(83), s.dec(sum))

		prod, err := s.cp.Mul(s.ctx, a, b)
		s.Require().NoError(err)
		s.Equal(uint64(240), s.dec(prod))

		diff, err := s.cp.Sub(s.ctx, a, b)
		s.Require().NoError(err)
		s.Equal(uint64(77), s.dec(diff))

		quot, err := s.cp.Div(s.ctx, a, b)
		s.Require().NoError(err)
		s.Equal(uint64(26), s.dec(quot))
	})

	s.Run("wraps modulo the type width", func() {
		diff, err := s.cp.Sub(s.ctx, s.enc(1), s.enc(2))
		s.Require().NoError(err)
		s.Equal(fhe.EUint32.MaxValue(), s.dec(diff))
	})

	s.Run("division by zero yields type max", func() {
		quot, err := s.cp.Div(s.ctx, s.enc(10), s.enc(0))
		s.Require().NoError(err)
		s.Equal(fhe.EUint32.MaxValue(), s.dec(quot))
	})

	s.Run("rejects mixed types", func() {
		b, err := s.cp.Trivial(s.ctx, fhe.EUint8, 1)
		s.Require().NoError(err)
		_, err = s.cp.Add(s.ctx, s.enc(1), b)
		s.ErrorIs(err, fhe.ErrTypeMismatch)
	})

	s.Run("rejects unknown handles", func() {
		bogus := fhe.Ciphertext{Type: fhe.EUint32, Handle: fhe.Handle{1}}
		_, err := s.cp.Add(s.ctx, bogus, s.enc(1))
		s.ErrorIs(err, fhe.ErrInvalidCiphertext)
	})
}

func (s *CoprocessorSuite) TestComparisonsAndSelect() {
	a, b := s.enc(70), s.enc(50)

	gte, err := s.cp.Gte(s.ctx, a, b)
	s.Require().NoError(err)
	s.Equal(fhe.EBool, gte.Type)
	s.Equal(uint64(1), s.dec(gte))

	gt, err := s.cp.Gt(s.ctx, b, a)
	s.Require().NoError(err)
	s.Equal(uint64(0), s.dec(gt))

	eq, err := s.cp.Eq(s.ctx, a, s.enc(70))
	s.Require().NoError(err)
	s.Equal(uint64(1), s.dec(eq))

	ne, err := s.cp.Ne(s.ctx, a, s.enc(70))
	s.Require().NoError(err)
	s.Equal(uint64(0), s.dec(ne))

	both, err := s.cp.And(s.ctx, gte, eq)
	s.Require().NoError(err)
	s.Equal(uint64(1), s.dec(both))

	picked, err := s.cp.Select(s.ctx, gt, a, b)
	s.Require().NoError(err)
	s.Equal(uint64(50), s.dec(picked))

	_, err = s.cp.Select(s.ctx, a, a, b)
	s.ErrorIs(err, fhe.ErrTypeMismatch)

	_, err = s.cp.And(s.ctx, a, gte)
	s.ErrorIs(err, fhe.ErrTypeMismatch)
}

func (s *CoprocessorSuite) TestDeterminism() {
	s.Run("trivial encryptions share a handle", func() {
		x, err := s.cp.Trivial(s.ctx, fhe.EUint32, 100)
		s.Require().NoError(err)
		y, err := s.cp.Trivial(s.ctx, fhe.EUint32, 100)
		s.Require().NoError(err)
		s.Equal(x, y)
	})

	s.Run("input encryptions are randomized", func() {
		s.NotEqual(s.enc(5).Handle, s.enc(5).Handle)
	})

	s.Run("operation results depend only on operands", func() {
		a, b := s.enc(9), s.enc(4)
		first, err := s.cp.Mul(s.ctx, a, b)
		s.Require().NoError(err)
		second, err := s.cp.Mul(s.ctx, a, b)
		s.Require().NoError(err)
		s.Equal(first, second)

		swapped, err := s.cp.Mul(s.ctx, b, a)
		s.Require().NoError(err)
		s.NotEqual(first.Handle, swapped.Handle)
		s.Equal(s.dec(first), s.dec(swapped))
	})
}
