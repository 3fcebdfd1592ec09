package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Route is venue specific execution data returned together with a quote.
// It is opaque to everything except the venue that produced it.
type Route struct {
	// Target contract the route must be submitted to.
	Target string
	// Calldata exact call to submit.
	Calldata []byte
	// Value native value attached to the call.
	Value *big.Int
	// Spender address that needs allowance for the input token.
	Spender string
}

// Quote is a same-block swap estimate. It is created for a single swap attempt and never reused.
type Quote struct {
	Input          TokenAmount
	ExpectedOutput TokenAmount
	// PriceImpact in percent, e.g. 0.5 means 0.5%.
	PriceImpact decimal.Decimal
	// Price output units per input unit.
	Price decimal.Decimal
	// Source describes where the quote came from (pool address or aggregator).
	Source    string
	Route     *Route
	CreatedAt time.Time
}

// ExceedsImpact reports whether the quote's price impact is above the ceiling.
func (q Quote) ExceedsImpact(maxPercent decimal.Decimal) bool {
	return q.PriceImpact.GreaterThan(maxPercent)
}
