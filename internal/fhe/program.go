package fhe

import "context"

// Program chains engine calls and stops at the first failure, so encrypted
// formulas read as expressions. After an error every method returns its first
// operand unchanged and Err reports the failure.
type Program struct {
	ctx    context.Context
	engine Engine
	err    error
}

func NewProgram(ctx context.Context, engine Engine) *Program {
	return &Program{ctx: ctx, engine: engine}
}

// Err returns the first error encountered.
func (p *Program) Err() error {
	return p.err
}

// Const is a trivial euint32 encryption of v.
func (p *Program) Const(v uint64) Ciphertext {
	return p.ConstOf(EUint32, v)
}

func (p *Program) ConstOf(t EncryptedType, v uint64) Ciphertext {
	if p.err != nil {
		return Ciphertext{}
	}
	c, err := p.engine.Trivial(p.ctx, t, v)
	p.err = err
	return c
}

func (p *Program) Encrypt(t EncryptedType, v uint64) Ciphertext {
	if p.err != nil {
		return Ciphertext{}
	}
	c, err := p.engine.Encrypt(p.ctx, t, v)
	p.err = err
	return c
}

func (p *Program) Add(a, b Ciphertext) Ciphertext { return p.binary(p.engine.Add, a, b) }
func (p *Program) Sub(a, b Ciphertext) Ciphertext { return p.binary(p.engine.Sub, a, b) }
func (p *Program) Mul(a, b Ciphertext) Ciphertext { return p.binary(p.engine.Mul, a, b) }
func (p *Program) Div(a, b Ciphertext) Ciphertext { return p.binary(p.engine.Div, a, b) }
func (p *Program) Gt(a, b Ciphertext) Ciphertext  { return p.binary(p.engine.Gt, a, b) }
func (p *Program) Gte(a, b Ciphertext) Ciphertext { return p.binary(p.engine.Gte, a, b) }
func (p *Program) Eq(a, b Ciphertext) Ciphertext  { return p.binary(p.engine.Eq, a, b) }
func (p *Program) Ne(a, b Ciphertext) Ciphertext  { return p.binary(p.engine.Ne, a, b) }
func (p *Program) And(a, b Ciphertext) Ciphertext { return p.binary(p.engine.And, a, b) }

func (p *Program) Select(cond, ifTrue, ifFalse Ciphertext) Ciphertext {
	if p.err != nil {
		return ifTrue
	}
	c, err := p.engine.Select(p.ctx, cond, ifTrue, ifFalse)
	p.err = err
	return c
}

// Max returns select(a > b, a, b).
func (p *Program) Max(a, b Ciphertext) Ciphertext {
	return p.Select(p.Gt(a, b), a, b)
}

// Min returns select(a > b, b, a).
func (p *Program) Min(a, b Ciphertext) Ciphertext {
	return p.Select(p.Gt(a, b), b, a)
}

// DivFloor1 divides a by max(b, 1), so an encrypted zero denominator never
// reaches Div.
func (p *Program) DivFloor1(a, b Ciphertext) Ciphertext {
	one := p.ConstOf(b.Type, 1)
	return p.Div(a, p.Select(p.Gte(b, one), b, one))
}

func (p *Program) binary(op func(context.Context, Ciphertext, Ciphertext) (Ciphertext, error), a, b Ciphertext) Ciphertext {
	if p.err != nil {
		return a
	}
	c, err := op(p.ctx, a, b)
	p.err = err
	return c
}
