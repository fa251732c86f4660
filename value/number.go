package value

import (
	"fmt"
	"math/big"
)

// Number is the engine's deterministic decimal type. The source this engine
// is descended from mixed float64 with an ad-hoc "safe number" shim; that
// inconsistency is exactly what made cross-platform replay unsafe. Number
// fixes this by being a fixed-point decimal: a scaled int64 mantissa, pure
// integer arithmetic underneath, so every operation produces the same bit
// pattern on every platform and there is no NaN to leak into a table key.
type Number struct {
	scaled int64
}

// Scale is the number of decimal digits of precision a Number carries.
const Scale = 9

var scaleFactor = big.NewInt(1_000_000_000) // 10^Scale

// ErrNumberOverflow is returned by any Number operation whose exact result
// does not fit in the fixed-point representation.
var ErrNumberOverflow = fmt.Errorf("number overflow")

// ErrDivideByZero is returned by division and modulo with a zero divisor.
var ErrDivideByZero = fmt.Errorf("attempt to perform division by zero")

// NewNumber builds a Number from a scaled mantissa (value * 10^Scale).
func NewNumber(scaled int64) Number { return Number{scaled} }

// NumberFromInt64 builds a Number representing an exact integer value,
// erroring if it would overflow the fixed-point range.
func NumberFromInt64(i int64) (Number, error) {
	b := new(big.Int).Mul(big.NewInt(i), scaleFactor)
	if !b.IsInt64() {
		return Number{}, ErrNumberOverflow
	}
	return Number{b.Int64()}, nil
}

// Raw returns the underlying scaled mantissa, for serialization.
func (n Number) Raw() int64 { return n.scaled }

func (n Number) String() string {
	neg := n.scaled < 0
	mag := n.scaled
	if neg {
		mag = -mag
	}
	whole := mag / int64(1_000_000_000)
	frac := mag % int64(1_000_000_000)
	s := fmt.Sprintf("%d.%09d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

func toBig(n Number) *big.Int { return big.NewInt(n.scaled) }

func fromBig(b *big.Int) (Number, error) {
	if !b.IsInt64() {
		return Number{}, ErrNumberOverflow
	}
	return Number{b.Int64()}, nil
}

// NumAdd adds two Numbers, trapping on overflow.
func NumAdd(a, b Number) (Number, error) {
	r := new(big.Int).Add(toBig(a), toBig(b))
	return fromBig(r)
}

// NumSub subtracts two Numbers, trapping on overflow.
func NumSub(a, b Number) (Number, error) {
	r := new(big.Int).Sub(toBig(a), toBig(b))
	return fromBig(r)
}

// NumMul multiplies two Numbers, trapping on overflow.
func NumMul(a, b Number) (Number, error) {
	r := new(big.Int).Mul(toBig(a), toBig(b))
	r.Quo(r, scaleFactor) // undo the double scale factor, truncating toward zero like the reference
	return fromBig(r)
}

// NumDiv divides two Numbers, trapping on overflow or division by zero.
func NumDiv(a, b Number) (Number, error) {
	if b.scaled == 0 {
		return Number{}, ErrDivideByZero
	}
	r := new(big.Int).Mul(toBig(a), scaleFactor)
	r.Quo(r, toBig(b))
	return fromBig(r)
}

// NumIDiv is floor division: floor(a / b).
func NumIDiv(a, b Number) (Number, error) {
	if b.scaled == 0 {
		return Number{}, ErrDivideByZero
	}
	num := new(big.Int).Mul(toBig(a), scaleFactor)
	den := toBig(b)

	q, m := new(big.Int), new(big.Int)
	q.QuoRem(num, den, m)
	if m.Sign() != 0 && (m.Sign() < 0) != (den.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return fromBig(q)
}

// NumMod computes a - b*floor(a/b), matching Lua's floored modulo.
func NumMod(a, b Number) (Number, error) {
	q, err := NumIDiv(a, b)
	if err != nil {
		return Number{}, err
	}
	prod, err := NumMul(q, b)
	if err != nil {
		return Number{}, err
	}
	return NumSub(a, prod)
}

// NumNeg negates a Number. Negation of a fixed-point mantissa cannot
// overflow except at the most negative int64 mantissa, which has no
// positive counterpart and is rejected with ErrNumberOverflow.
func NumNeg(a Number) (Number, error) {
	if a.scaled == -(1 << 63) {
		return Number{}, ErrNumberOverflow
	}
	return Number{-a.scaled}, nil
}

// NumPow raises a Number to an integer exponent (fractional exponents are
// not representable deterministically and are rejected by the caller before
// reaching here).
func NumPow(a Number, exp int64) (Number, error) {
	if exp < 0 {
		one, _ := NumberFromInt64(1)
		pos, err := NumPow(a, -exp)
		if err != nil {
			return Number{}, err
		}
		return NumDiv(one, pos)
	}

	result, err := NumberFromInt64(1)
	if err != nil {
		return Number{}, err
	}
	base := a
	for exp > 0 {
		if exp&1 == 1 {
			if result, err = NumMul(result, base); err != nil {
				return Number{}, err
			}
		}
		exp >>= 1
		if exp == 0 {
			break
		}
		if base, err = NumMul(base, base); err != nil {
			return Number{}, err
		}
	}
	return result, nil
}

// NumCompare returns -1, 0 or 1 comparing a to b exactly.
func NumCompare(a, b Number) int {
	switch {
	case a.scaled < b.scaled:
		return -1
	case a.scaled > b.scaled:
		return 1
	default:
		return 0
	}
}

// ToInteger losslessly converts a Number to an int64 if it represents an
// exact integer value.
func ToInteger(n Number) (int64, bool) {
	if n.scaled%int64(1_000_000_000) != 0 {
		return 0, false
	}
	return n.scaled / int64(1_000_000_000), true
}

// FromInteger losslessly converts an int64 to a Number, if representable.
func FromInteger(i int64) (Number, bool) {
	n, err := NumberFromInt64(i)
	return n, err == nil
}
