// Package trader executes gated swaps on the EVM chain.
package trader

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/evmtx"
)

const defaultAsyncSettlement = 15 * time.Second

type quoter interface {
	Quote(ctx context.Context, input domain.TokenAmount, output domain.Token) (domain.Quote, error)
}

type balanceReader interface {
	GetBalance(ctx context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error)
}

type sender interface {
	SendTx(ctx context.Context, to string, value *big.Int, data []byte) (string, error)
}

// Executor runs quote -> gate -> allowance -> submit -> confirm -> settle -> observe.
type Executor struct {
	quoter         quoter
	venue          Venue
	submitter      *evmtx.Submitter
	sender         sender
	balances       balanceReader
	settlementWait time.Duration
	logger         *zap.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor. settlementWait is applied after every confirmed
// swap when positive. Venues that settle asynchronously always wait.
func NewExecutor(q quoter, venue Venue, submitter *evmtx.Submitter, sender sender, balances balanceReader, settlementWait time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		quoter:         q,
		venue:          venue,
		submitter:      submitter,
		sender:         sender,
		balances:       balances,
		settlementWait: settlementWait,
		logger:         logger.Named("trader"),
		sleep:          sleepContext,
	}
}

// Execute swaps input for output. A price impact above maxPriceImpact aborts
// before anything is submitted. Aborts and unverified outcomes are results, not errors.
func (e *Executor) Execute(ctx context.Context, input domain.TokenAmount, output domain.Token, maxPriceImpact decimal.Decimal, dryRun bool) (domain.SwapResult, error) {
	quote, err := e.quoter.Quote(ctx, input, output)
	if err != nil {
		return domain.SwapResult{}, err
	}

	l := e.logger.With(
		zap.String("cycle", domain.CycleID(ctx)),
		zap.String("venue", e.venue.Name()),
		zap.String("input", input.String()),
		zap.String("expected_output", quote.ExpectedOutput.String()),
		zap.String("price_impact", quote.PriceImpact.String()),
	)

	if quote.ExceedsImpact(maxPriceImpact) {
		l.Warn("swap aborted by price impact gate", zap.String("max_price_impact", maxPriceImpact.String()))
		return domain.SwapResult{
			Status:         domain.SwapAborted,
			Quote:          quote,
			ExpectedOutput: quote.ExpectedOutput,
			ActualOutput:   domain.ZeroAmount(output),
			AbortReason:    domain.AbortReasonPriceImpact,
		}, nil
	}

	if dryRun {
		l.Info("dry run: swap simulated")
		return domain.SwapResult{
			Status:         domain.SwapSimulated,
			Quote:          quote,
			ExpectedOutput: quote.ExpectedOutput,
			ActualOutput:   quote.ExpectedOutput,
		}, nil
	}

	wallet := e.submitter.Address()
	before, err := e.balances.GetBalance(ctx, wallet, output)
	if err != nil {
		return domain.SwapResult{}, err
	}

	result := domain.SwapResult{
		Quote:          quote,
		ExpectedOutput: quote.ExpectedOutput,
		ActualOutput:   domain.ZeroAmount(output),
		Fee:            decimal.Zero,
	}

	approval, err := e.submitter.EnsureAllowance(ctx, input, e.venue.Spender(quote))
	if err != nil {
		return domain.SwapResult{}, err
	}
	if approval != nil {
		result.TxIDs = append(result.TxIDs, approval.TxID)
		result.Fee = result.Fee.Add(approval.Fee)
	}

	call, err := e.venue.Build(quote, wallet)
	if err != nil {
		return domain.SwapResult{}, err
	}

	receipt, err := e.submitter.Submit(ctx, domain.StageSwap, input, call.To, func(ctx context.Context) (string, error) {
		return e.sender.SendTx(ctx, call.To, call.Value, call.Data)
	})
	if err != nil {
		return domain.SwapResult{}, err
	}
	result.TxIDs = append(result.TxIDs, receipt.TxID)
	result.Fee = result.Fee.Add(receipt.Fee)

	wait := e.settlementWait
	if wait <= 0 && e.venue.AsyncSettlement() {
		wait = defaultAsyncSettlement
	}
	if wait > 0 {
		l.Debug("waiting for settlement", zap.Duration("wait", wait))
		if err := e.sleep(ctx, wait); err != nil {
			result.Status = domain.SwapUnverified
			return result, nil
		}
	}

	after, err := e.balances.GetBalance(ctx, wallet, output)
	if err != nil {
		l.Error("funds likely moved, confirmation unverified", zap.Strings("tx", result.TxIDs), zap.Error(err))
		result.Status = domain.SwapUnverified
		return result, nil
	}

	result.Status = domain.SwapExecuted
	result.ActualOutput = after.Amount.SubFloor(before.Amount)
	l.Info("swap executed",
		zap.Strings("tx", result.TxIDs),
		zap.String("actual_output", result.ActualOutput.String()),
		zap.String("fee", result.Fee.String()))

	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
