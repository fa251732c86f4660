package interp

import (
	"strconv"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

func intToString(i int64) string { return strconv.FormatInt(i, 10) }

// numericOp computes a primitive result for the non-bitwise arithmetic
// opcodes. ok is false when either operand is not an int64/Number,
// signalling the caller to fall back to a metamethod.
type numericOp func(a, b value.Value) (value.Value, error, bool)

func (in *Interp) arith(th *Thread, name string, a, b value.Value, op numericOp) (value.Value, error) {
	if r, err, ok := op(a, b); ok {
		return r, err
	}
	if h := metamethod(in, a, name); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	if h := metamethod(in, b, name); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	bad := a
	if _, aInt := a.(int64); aInt {
		bad = b
	} else if _, aNum := a.(value.Number); aNum {
		bad = b
	}
	return nil, errs.Runtime("attempt to perform arithmetic on a %s value", value.TypeName(bad))
}

func numResult(r value.Number, err error) (value.Value, error, bool) {
	if err != nil {
		return nil, errs.Runtime("%s", err.Error()), true
	}
	return r, nil, true
}

func intResult(r int64, err error) (value.Value, error, bool) {
	if err != nil {
		return nil, errs.Runtime("%s", err.Error()), true
	}
	return r, nil, true
}

// asNumberPair promotes a and b (each an int64 or a Number) to a
// Number+Number pair; ok is false if either is neither, or if an int64
// does not fit the Number range.
func asNumberPair(a, b value.Value) (an, bn value.Number, ok bool) {
	switch av := a.(type) {
	case int64:
		n, good := value.FromInteger(av)
		if !good {
			return value.Number{}, value.Number{}, false
		}
		an = n
	case value.Number:
		an = av
	default:
		return value.Number{}, value.Number{}, false
	}
	switch bv := b.(type) {
	case int64:
		n, good := value.FromInteger(bv)
		if !good {
			return value.Number{}, value.Number{}, false
		}
		bn = n
	case value.Number:
		bn = bv
	default:
		return value.Number{}, value.Number{}, false
	}
	return an, bn, true
}

func bothInt(a, b value.Value) (int64, int64, bool) {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	return ai, bi, aok && bok
}

func bothNumberish(a, b value.Value) bool {
	_, aInt := a.(int64)
	_, aNum := a.(value.Number)
	_, bInt := b.(int64)
	_, bNum := b.(value.Number)
	return (aInt || aNum) && (bInt || bNum)
}

func addOp(a, b value.Value) (value.Value, error, bool) {
	if ai, bi, ok := bothInt(a, b); ok {
		r, err := value.IntAdd(ai, bi)
		return intResult(r, err)
	}
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumAdd(an, bn)
	return numResult(r, err)
}

func subOp(a, b value.Value) (value.Value, error, bool) {
	if ai, bi, ok := bothInt(a, b); ok {
		r, err := value.IntSub(ai, bi)
		return intResult(r, err)
	}
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumSub(an, bn)
	return numResult(r, err)
}

func mulOp(a, b value.Value) (value.Value, error, bool) {
	if ai, bi, ok := bothInt(a, b); ok {
		r, err := value.IntMul(ai, bi)
		return intResult(r, err)
	}
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumMul(an, bn)
	return numResult(r, err)
}

// divOp always promotes to Number: integer division with a non-exact
// result has no integer representation, and the data model reserves exact
// integer semantics for idiv.
func divOp(a, b value.Value) (value.Value, error, bool) {
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumDiv(an, bn)
	return numResult(r, err)
}

func idivOp(a, b value.Value) (value.Value, error, bool) {
	if ai, bi, ok := bothInt(a, b); ok {
		r, err := value.IntIDiv(ai, bi)
		return intResult(r, err)
	}
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumIDiv(an, bn)
	return numResult(r, err)
}

func modOp(a, b value.Value) (value.Value, error, bool) {
	if ai, bi, ok := bothInt(a, b); ok {
		r, err := value.IntMod(ai, bi)
		return intResult(r, err)
	}
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	an, bn, _ := asNumberPair(a, b)
	r, err := value.NumMod(an, bn)
	return numResult(r, err)
}

// powOp requires an integer exponent regardless of the base's
// representation, per the data model's "integer-exponent power" rule.
func powOp(a, b value.Value) (value.Value, error, bool) {
	if !bothNumberish(a, b) {
		return nil, nil, false
	}
	exp, exact := toExactInteger(b)
	if !exact {
		return nil, errs.Runtime("exponent must be an integer"), true
	}
	var base value.Number
	switch av := a.(type) {
	case int64:
		base, _ = value.FromInteger(av)
	case value.Number:
		base = av
	}
	r, err := value.NumPow(base, exp)
	return numResult(r, err)
}

func toExactInteger(v value.Value) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case value.Number:
		return value.ToInteger(t)
	default:
		return 0, false
	}
}

func (in *Interp) Add(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__add", a, b, addOp) }
func (in *Interp) Sub(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__sub", a, b, subOp) }
func (in *Interp) Mul(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__mul", a, b, mulOp) }
func (in *Interp) Div(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__div", a, b, divOp) }
func (in *Interp) Mod(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__mod", a, b, modOp) }
func (in *Interp) Pow(th *Thread, a, b value.Value) (value.Value, error) { return in.arith(th, "__pow", a, b, powOp) }
func (in *Interp) IDiv(th *Thread, a, b value.Value) (value.Value, error) {
	return in.arith(th, "__idiv", a, b, idivOp)
}

// Unm implements unary minus with __unm fallback.
func (in *Interp) Unm(th *Thread, a value.Value) (value.Value, error) {
	switch av := a.(type) {
	case int64:
		r, err := value.IntNeg(av)
		if err != nil {
			return nil, errs.Runtime("%s", err.Error())
		}
		return r, nil
	case value.Number:
		r, err := value.NumNeg(av)
		if err != nil {
			return nil, errs.Runtime("%s", err.Error())
		}
		return r, nil
	}
	if h := metamethod(in, a, "__unm"); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, a})
		return first(rs), err
	}
	return nil, errs.Runtime("attempt to perform arithmetic on a %s value", value.TypeName(a))
}

// bitwiseOp computes a checked bitwise result over the integer-representable
// views of a and b.
type bitwiseOp func(a, b int64) int64

func (in *Interp) bitwise(th *Thread, name string, a, b value.Value, op bitwiseOp) (value.Value, error) {
	ai, aok := toExactInteger(a)
	bi, bok := toExactInteger(b)
	if aok && bok {
		return op(ai, bi), nil
	}
	if h := metamethod(in, a, name); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	if h := metamethod(in, b, name); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	bad := a
	if aok {
		bad = b
	}
	return nil, errs.Runtime("attempt to perform bitwise operation on a %s value", value.TypeName(bad))
}

func (in *Interp) BAnd(th *Thread, a, b value.Value) (value.Value, error) {
	return in.bitwise(th, "__band", a, b, func(a, b int64) int64 { return a & b })
}
func (in *Interp) BOr(th *Thread, a, b value.Value) (value.Value, error) {
	return in.bitwise(th, "__bor", a, b, func(a, b int64) int64 { return a | b })
}
func (in *Interp) BXor(th *Thread, a, b value.Value) (value.Value, error) {
	return in.bitwise(th, "__bxor", a, b, func(a, b int64) int64 { return a ^ b })
}
func (in *Interp) Shl(th *Thread, a, b value.Value) (value.Value, error) {
	return in.bitwise(th, "__shl", a, b, func(a, b int64) int64 { return shiftLeft(a, b) })
}
func (in *Interp) Shr(th *Thread, a, b value.Value) (value.Value, error) {
	return in.bitwise(th, "__shr", a, b, func(a, b int64) int64 { return shiftLeft(a, -b) })
}

func shiftLeft(a, n int64) int64 {
	switch {
	case n <= -64 || n >= 64:
		return 0
	case n >= 0:
		return a << uint(n)
	default:
		return int64(uint64(a) >> uint(-n))
	}
}

// BNot implements unary bitwise negation, metamethod fallback included.
func (in *Interp) BNot(th *Thread, a value.Value) (value.Value, error) {
	if ai, ok := toExactInteger(a); ok {
		return ^ai, nil
	}
	if h := metamethod(in, a, "__bnot"); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, a})
		return first(rs), err
	}
	return nil, errs.Runtime("attempt to perform bitwise operation on a %s value", value.TypeName(a))
}
