package types

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// maxAmount is 2^128 - 1, the largest representable balance (the genesis
// supply in the reference ledger).
var maxAmount = func() *uint256.Int {
	one := uint256.NewInt(1)
	max128 := new(uint256.Int).Lsh(one, 128)
	return new(uint256.Int).Sub(max128, one)
}()

// Amount is a 128-bit unsigned monetary balance. It is backed by
// holiman/uint256 (a 256-bit fixed-width integer) constrained to the low
// 128 bits so every arithmetic op can be overflow-checked against the
// ledger's actual value domain instead of silently wrapping.
type Amount struct {
	v uint256.Int
}

// ZeroAmount is the additive identity.
var ZeroAmount = Amount{}

// NewAmount builds an Amount from a uint64, which always fits in 128 bits.
func NewAmount(v uint64) Amount {
	return Amount{v: *uint256.NewInt(v)}
}

// AmountFromBig16 builds an Amount from sixteen big-endian bytes, the wire
// and sideband encoding used throughout the store and wire protocol.
func AmountFromBig16(b [16]byte) Amount {
	var a Amount
	a.v.SetBytes(b[:])
	return a
}

// Bytes16 serializes the amount as sixteen big-endian bytes.
func (a Amount) Bytes16() [16]byte {
	var out [16]byte
	b := a.v.Bytes()
	copy(out[16-len(b):], b)
	return out
}

func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a quoted base-10 string, since a
// 128-bit value routinely exceeds what a JSON/YAML number can carry
// without precision loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.v.Dec())), nil
}

// UnmarshalJSON parses a quoted (or bare) base-10 string produced by
// MarshalJSON, the form config.Constants expects for every Amount
// field loaded from YAML.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		s = string(data)
	}
	var v uint256.Int
	if err := v.SetFromDecimal(s); err != nil {
		return fmt.Errorf("types: invalid amount %q: %w", s, err)
	}
	a.v = v
	return nil
}

// Cmp compares two amounts, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// BitLen returns the number of bits required to represent the amount (0
// for a zero amount), used to bucket balances into coarse magnitude
// classes without comparing every pair directly.
func (a Amount) BitLen() int {
	return a.v.BitLen()
}

// Add returns a+b, erroring if the result would exceed 2^128-1.
func Add(a, b Amount) (Amount, error) {
	var sum uint256.Int
	if sum.AddOverflow(&a.v, &b.v) {
		return Amount{}, fmt.Errorf("types: amount overflow")
	}
	if sum.Gt(maxAmount) {
		return Amount{}, fmt.Errorf("types: amount exceeds 128 bits")
	}
	return Amount{v: sum}, nil
}

// Sub returns a-b, erroring on underflow (a < b).
func Sub(a, b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, fmt.Errorf("types: amount underflow")
	}
	var diff uint256.Int
	diff.Sub(&a.v, &b.v)
	return Amount{v: diff}, nil
}

// MaxAmount is the largest representable 128-bit balance.
func MaxAmount() Amount {
	return Amount{v: *maxAmount}
}

// MulDivUint64 returns floor(a*mul/div), using the full 256-bit range of
// the underlying integer for the intermediate product so percent-of-weight
// calculations (e.g. a quorum delta) never overflow even though the
// result, being no larger than a, always fits back in 128 bits.
func MulDivUint64(a Amount, mul, div uint64) Amount {
	var product uint256.Int
	product.Mul(&a.v, uint256.NewInt(mul))
	var result uint256.Int
	result.Div(&product, uint256.NewInt(div))
	return Amount{v: result}
}
