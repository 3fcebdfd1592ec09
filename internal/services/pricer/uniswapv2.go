package pricer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/domain"
)

// ReservesReader reads Uniswap V2 pair reserves.
type ReservesReader interface {
	Reserves(ctx context.Context, pair string) (token0 string, reserve0, reserve1 *big.Int, err error)
}

// UniswapV2Quoter quotes a constant-product pool from its on-chain reserves.
type UniswapV2Quoter struct {
	reader ReservesReader
	pair   string
	feeBps int64
	now    func() time.Time
}

// NewUniswapV2Quoter creates a quoter for pair with the pool fee in basis points (30 for 0.3%).
func NewUniswapV2Quoter(reader ReservesReader, pair string, feeBps int) *UniswapV2Quoter {
	return &UniswapV2Quoter{reader: reader, pair: pair, feeBps: int64(feeBps), now: time.Now}
}

// Quote prices selling input for output at the current reserves.
func (q *UniswapV2Quoter) Quote(ctx context.Context, input domain.TokenAmount, output domain.Token) (domain.Quote, error) {
	if input.IsZero() {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteUnavailable, "zero input")
	}

	rin, rout, err := q.reserves(ctx, input.Token, output)
	if err != nil {
		return domain.Quote{}, err
	}

	out := amountOut(input.Raw(), rin, rout, q.feeBps)
	if out.Sign() <= 0 {
		return domain.Quote{}, errors.Wrapf(domain.ErrQuoteUnavailable, "input %s too small for pool %s", input, q.pair)
	}

	expected, err := domain.NewAmountFromRaw(output, out)
	if err != nil {
		return domain.Quote{}, err
	}

	spot := reserveUnits(rout, output).DivRound(reserveUnits(rin, input.Token), divPrecision)
	exec := executionPrice(input, expected)

	return domain.Quote{
		Input:          input,
		ExpectedOutput: expected,
		PriceImpact:    priceImpact(spot, exec),
		Price:          exec,
		Source:         "uniswap-v2:" + q.pair,
		CreatedAt:      q.now(),
	}, nil
}

// RequiredInput returns ceil(Rin*out*10000 / ((Rout-out)*(10000-fee))).
func (q *UniswapV2Quoter) RequiredInput(ctx context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error) {
	rin, rout, err := q.reserves(ctx, input, desired.Token)
	if err != nil {
		return domain.TokenAmount{}, err
	}

	in, err := amountIn(desired.Raw(), rin, rout, q.feeBps)
	if err != nil {
		return domain.TokenAmount{}, err
	}
	return domain.NewAmountFromRaw(input, in)
}

func (q *UniswapV2Quoter) reserves(ctx context.Context, input, output domain.Token) (rin, rout *big.Int, err error) {
	token0, r0, r1, err := q.reader.Reserves(ctx, q.pair)
	if err != nil {
		return nil, nil, domain.NewQueryError("reserves of "+q.pair, err)
	}

	switch {
	case strings.EqualFold(token0, input.ID):
		rin, rout = r0, r1
	case strings.EqualFold(token0, output.ID):
		rin, rout = r1, r0
	default:
		return nil, nil, fmt.Errorf("pair %s does not trade %s/%s", q.pair, input.Symbol, output.Symbol)
	}

	if rin.Sign() <= 0 || rout.Sign() <= 0 {
		return nil, nil, errors.Wrapf(domain.ErrQuoteUnavailable, "pool %s has no liquidity", q.pair)
	}
	return rin, rout, nil
}

// amountOut mirrors UniswapV2Library.getAmountOut.
func amountOut(in, rin, rout *big.Int, feeBps int64) *big.Int {
	inWithFee := new(big.Int).Mul(in, big.NewInt(bpsDenominator-feeBps))
	num := new(big.Int).Mul(inWithFee, rout)
	den := new(big.Int).Mul(rin, big.NewInt(bpsDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

func amountIn(out, rin, rout *big.Int, feeBps int64) (*big.Int, error) {
	if out.Sign() <= 0 {
		return new(big.Int), nil
	}
	if out.Cmp(rout) >= 0 {
		return nil, errors.Wrapf(domain.ErrQuoteUnavailable, "output %s exceeds pool reserve %s", out, rout)
	}

	num := new(big.Int).Mul(rin, out)
	num.Mul(num, big.NewInt(bpsDenominator))
	den := new(big.Int).Sub(rout, out)
	den.Mul(den, big.NewInt(bpsDenominator-feeBps))

	// ceil(num / den)
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	return num.Quo(num, den), nil
}

func reserveUnits(raw *big.Int, token domain.Token) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(token.Decimals))
}
