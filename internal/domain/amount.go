package domain

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Rounding selects how human units are mapped onto the smallest unit.
type Rounding int

const (
	// RoundDown is used for amounts that are sent, burned or transferred.
	RoundDown Rounding = iota
	// RoundUp is used for amounts required as input.
	RoundUp
)

// TokenAmount is a non-negative quantity of a token kept in smallest units.
type TokenAmount struct {
	Token Token
	raw   *big.Int
}

// NewAmountFromRaw builds an amount from the smallest-unit integer.
func NewAmountFromRaw(token Token, raw *big.Int) (TokenAmount, error) {
	if raw == nil {
		return ZeroAmount(token), nil
	}
	if raw.Sign() < 0 {
		return TokenAmount{}, fmt.Errorf("negative %s amount %s", token.Symbol, raw.String())
	}

	return TokenAmount{Token: token, raw: new(big.Int).Set(raw)}, nil
}

// NewAmountFromUnits converts human units into smallest units using the given rounding.
func NewAmountFromUnits(token Token, units decimal.Decimal, mode Rounding) (TokenAmount, error) {
	if units.IsNegative() {
		return TokenAmount{}, fmt.Errorf("negative %s amount %s", token.Symbol, units.String())
	}

	shifted := units.Shift(int32(token.Decimals))
	switch mode {
	case RoundUp:
		shifted = shifted.RoundCeil(0)
	default:
		shifted = shifted.RoundFloor(0)
	}

	return TokenAmount{Token: token, raw: shifted.BigInt()}, nil
}

// ParseAmount parses a decimal string of human units.
func ParseAmount(token Token, units string, mode Rounding) (TokenAmount, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return TokenAmount{}, errors.Wrapf(err, "parse %s amount %q", token.Symbol, units)
	}

	return NewAmountFromUnits(token, d, mode)
}

// MustUnits is NewAmountFromUnits that panics on error. Intended for constants and tests.
func MustUnits(token Token, units string) TokenAmount {
	a, err := ParseAmount(token, units, RoundDown)
	if err != nil {
		panic(err)
	}
	return a
}

// ZeroAmount returns a zero amount of token.
func ZeroAmount(token Token) TokenAmount {
	return TokenAmount{Token: token, raw: new(big.Int)}
}

// Raw returns a copy of the smallest-unit integer.
func (a TokenAmount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Units returns the amount in human units.
func (a TokenAmount) Units() decimal.Decimal {
	return decimal.NewFromBigInt(a.Raw(), -int32(a.Token.Decimals))
}

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a.raw == nil || a.raw.Sign() == 0
}

// Cmp compares two amounts of the same token.
func (a TokenAmount) Cmp(b TokenAmount) int {
	return a.Raw().Cmp(b.Raw())
}

// LessThan reports a < b.
func (a TokenAmount) LessThan(b TokenAmount) bool {
	return a.Cmp(b) < 0
}

// Add returns a + b.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	return TokenAmount{Token: a.Token, raw: new(big.Int).Add(a.Raw(), b.Raw())}
}

// SubFloor returns max(0, a - b).
func (a TokenAmount) SubFloor(b TokenAmount) TokenAmount {
	diff := new(big.Int).Sub(a.Raw(), b.Raw())
	if diff.Sign() < 0 {
		diff.SetInt64(0)
	}
	return TokenAmount{Token: a.Token, raw: diff}
}

// Convert reinterprets the same human units as another token, e.g. the bridged
// representation of an asset. Precision loss rounds down.
func (a TokenAmount) Convert(token Token) TokenAmount {
	converted, _ := NewAmountFromUnits(token, a.Units(), RoundDown)
	return converted
}

// String returns a human-readable string representation.
func (a TokenAmount) String() string {
	return fmt.Sprintf("%s %s", a.Units().String(), a.Token.Symbol)
}

// Needed returns max(0, target - current).
func Needed(target, current TokenAmount) TokenAmount {
	return target.SubFloor(current)
}

// Sendable returns min(available, needed). The result never exceeds what was observed.
func Sendable(available, needed TokenAmount) TokenAmount {
	if available.LessThan(needed) {
		return TokenAmount{Token: available.Token, raw: available.Raw()}
	}
	return TokenAmount{Token: available.Token, raw: needed.Raw()}
}
