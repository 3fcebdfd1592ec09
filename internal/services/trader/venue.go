package trader

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/clients"
	"github.com/vadiminshakov/topup/internal/domain"
)

const defaultSwapDeadline = 20 * time.Minute

// Call is a transaction to submit.
type Call struct {
	To    string
	Value *big.Int
	Data  []byte
}

// Venue turns a quote into a swap transaction.
type Venue interface {
	Name() string
	// Spender needs an allowance of the input token before Build's call is submitted.
	Spender(q domain.Quote) string
	Build(q domain.Quote, recipient string) (Call, error)
	// AsyncSettlement reports whether the output may arrive after the transaction is mined.
	AsyncSettlement() bool
}

// UniswapV2Venue swaps through a Uniswap V2 router.
type UniswapV2Venue struct {
	router   string
	slippage decimal.Decimal
	deadline time.Duration
	now      func() time.Time
}

// NewUniswapV2Venue creates a venue that accepts at most slippagePercent less than the quote.
func NewUniswapV2Venue(router string, slippagePercent decimal.Decimal) *UniswapV2Venue {
	return &UniswapV2Venue{router: router, slippage: slippagePercent, deadline: defaultSwapDeadline, now: time.Now}
}

func (v *UniswapV2Venue) Name() string { return "uniswap-v2" }

func (v *UniswapV2Venue) Spender(domain.Quote) string { return v.router }

func (v *UniswapV2Venue) AsyncSettlement() bool { return false }

// Build encodes swapExactTokensForTokens with amountOutMin = expected * (1 - slippage).
func (v *UniswapV2Venue) Build(q domain.Quote, recipient string) (Call, error) {
	minOut := MinOutput(q.ExpectedOutput, v.slippage)
	if minOut.IsZero() {
		return Call{}, fmt.Errorf("minimum output rounds to zero for %s", q.ExpectedOutput)
	}

	path := []common.Address{common.HexToAddress(q.Input.Token.ID), common.HexToAddress(q.ExpectedOutput.Token.ID)}
	deadline := big.NewInt(v.now().Add(v.deadline).Unix())

	data, err := clients.UniswapRouterABI.Pack("swapExactTokensForTokens",
		q.Input.Raw(), minOut.Raw(), path, common.HexToAddress(recipient), deadline)
	if err != nil {
		return Call{}, errors.Wrap(err, "pack swapExactTokensForTokens")
	}

	return Call{To: v.router, Value: new(big.Int), Data: data}, nil
}

// AggregatorVenue re-submits the route returned with the quote.
type AggregatorVenue struct{}

func (AggregatorVenue) Name() string { return "aggregator" }

func (AggregatorVenue) Spender(q domain.Quote) string {
	if q.Route == nil {
		return ""
	}
	return q.Route.Spender
}

func (AggregatorVenue) AsyncSettlement() bool { return true }

// Build returns the route verbatim.
func (AggregatorVenue) Build(q domain.Quote, _ string) (Call, error) {
	if q.Route == nil || q.Route.Target == "" || len(q.Route.Calldata) == 0 {
		return Call{}, errors.Wrap(domain.ErrQuoteUnavailable, "quote carries no route")
	}
	value := q.Route.Value
	if value == nil {
		value = new(big.Int)
	}
	return Call{To: q.Route.Target, Value: value, Data: q.Route.Calldata}, nil
}

// MinOutput returns expected reduced by slippagePercent, rounded down.
func MinOutput(expected domain.TokenAmount, slippagePercent decimal.Decimal) domain.TokenAmount {
	factor := decimal.NewFromInt(1).Sub(slippagePercent.Div(decimal.NewFromInt(100)))
	if !factor.IsPositive() {
		return domain.ZeroAmount(expected.Token)
	}
	floor, _ := domain.NewAmountFromUnits(expected.Token, expected.Units().Mul(factor), domain.RoundDown)
	return floor
}
