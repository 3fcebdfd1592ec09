// Package pricer produces same-block swap quotes. Quoters never mutate state.
package pricer

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/domain"
)

const (
	bpsDenominator = 10000
	divPrecision   = 18
)

// Quoter prices a swap of input into output.
type Quoter interface {
	Quote(ctx context.Context, input domain.TokenAmount, output domain.Token) (domain.Quote, error)
	// RequiredInput returns the input needed to receive at least desired, rounded up.
	RequiredInput(ctx context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error)
}

var hundred = decimal.NewFromInt(100)

// priceImpact returns (spot - exec) / spot * 100, never negative.
func priceImpact(spot, exec decimal.Decimal) decimal.Decimal {
	if !spot.IsPositive() {
		return decimal.Zero
	}
	impact := spot.Sub(exec).DivRound(spot, divPrecision).Mul(hundred)
	if impact.IsNegative() {
		return decimal.Zero
	}
	return impact
}

// executionPrice returns output units per input unit.
func executionPrice(input, output domain.TokenAmount) decimal.Decimal {
	if input.IsZero() {
		return decimal.Zero
	}
	return output.Units().DivRound(input.Units(), divPrecision)
}
