// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Arithmetic faults. Any checked computation that hits one of these aborts the
// whole operation; results are never saturated or truncated.
var (
	ErrMathOverflow  = errors.New("math overflow")
	ErrMathUnderflow = errors.New("math underflow")
	ErrDivideByZero  = errors.New("division by zero")
)

// U128 is an unsigned quantity bounded to 128 bits. Intermediates may use the
// full 256-bit range of sdkmath.Uint.
type U128 = sdkmath.Uint

// I128 is a signed quantity bounded to 128 bits.
type I128 = sdkmath.Int

var (
	maxU128 = sdkmath.NewUintFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))
	maxI128 = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)))
	minI128 = sdkmath.NewIntFromBigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)))
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

func Zero() U128 { return sdkmath.ZeroUint() }

func FromUint64(v uint64) U128 { return sdkmath.NewUint(v) }

// ParseU128 parses a base-10 string (as stored in Postgres NUMERIC columns).
func ParseU128(s string) (U128, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return Zero(), fmt.Errorf("parse u128 %q: invalid", s)
	}
	if b.BitLen() > 128 {
		return Zero(), fmt.Errorf("parse u128 %q: %w", s, ErrMathOverflow)
	}
	return sdkmath.NewUintFromBigInt(b), nil
}

func bound(v U128) (U128, error) {
	if v.GT(maxU128) {
		return Zero(), ErrMathOverflow
	}
	return v, nil
}

// Add returns a + b, failing if the sum leaves the 128-bit range.
func Add(a, b U128) (U128, error) {
	return bound(a.Add(b))
}

// Sub returns a - b, failing on underflow.
func Sub(a, b U128) (U128, error) {
	if b.GT(a) {
		return Zero(), ErrMathUnderflow
	}
	return a.Sub(b), nil
}

// Mul returns a * b, failing if the product leaves the 128-bit range.
func Mul(a, b U128) (U128, error) {
	return bound(a.Mul(b))
}

// Div returns floor(a / b).
func Div(a, b U128) (U128, error) {
	if b.IsZero() {
		return Zero(), ErrDivideByZero
	}
	return a.Quo(b), nil
}

// MulDiv computes a * b / c with a 256-bit intermediate and the requested
// rounding. The result must fit in 128 bits.
func MulDiv(a, b, c U128, mode RoundingMode) (U128, error) {
	if c.IsZero() {
		return Zero(), ErrDivideByZero
	}
	num := a.Mul(b)
	q := num.Quo(c)
	if mode == RoundUp && !num.Mod(c).IsZero() {
		q = q.Add(sdkmath.OneUint())
	}
	return bound(q)
}

// DivPow10 returns floor(v / 10^k). Exponents past the u128 range floor any
// value to zero.
func DivPow10(v U128, k uint64) U128 {
	if k > 38 {
		return Zero()
	}
	d := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(k), nil)
	return sdkmath.NewUintFromBigInt(new(big.Int).Quo(v.BigInt(), d))
}

// ToUint64 narrows to u64.
func ToUint64(v U128) (uint64, error) {
	b := v.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("cast %s to u64: %w", v, ErrMathOverflow)
	}
	return b.Uint64(), nil
}

// ToInt64 narrows to i64.
func ToInt64(v U128) (int64, error) {
	b := v.BigInt()
	if !b.IsInt64() {
		return 0, fmt.Errorf("cast %s to i64: %w", v, ErrMathOverflow)
	}
	return b.Int64(), nil
}

func Min(a, b U128) U128 {
	if a.LT(b) {
		return a
	}
	return b
}

// --- signed helpers ---

func IntFromInt64(v int64) I128 { return sdkmath.NewInt(v) }

func IntFromUint64(v uint64) I128 { return sdkmath.NewIntFromUint64(v) }

func IntFromU128(v U128) (I128, error) {
	return boundInt(sdkmath.NewIntFromBigInt(v.BigInt()))
}

func boundInt(v I128) (I128, error) {
	if v.GT(maxI128) {
		return sdkmath.ZeroInt(), ErrMathOverflow
	}
	if v.LT(minI128) {
		return sdkmath.ZeroInt(), ErrMathUnderflow
	}
	return v, nil
}

// AddInt returns a + b within the i128 range.
func AddInt(a, b I128) (I128, error) {
	return boundInt(a.Add(b))
}

// SubInt returns a - b within the i128 range.
func SubInt(a, b I128) (I128, error) {
	return boundInt(a.Sub(b))
}

func MinInt(a, b I128) I128 {
	if a.LT(b) {
		return a
	}
	return b
}

// IntToUint64 narrows a non-negative i128 to u64.
func IntToUint64(v I128) (uint64, error) {
	b := v.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("cast %s to u64: %w", v, ErrMathOverflow)
	}
	return b.Uint64(), nil
}

// ParseI128 parses a signed base-10 string.
func ParseI128(s string) (I128, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("parse i128 %q: invalid", s)
	}
	v, err := boundInt(sdkmath.NewIntFromBigInt(b))
	if err != nil {
		return v, fmt.Errorf("parse i128 %q: %w", s, err)
	}
	return v, nil
}
