package topup

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// topUp buys, bridges and forwards what the target wallet still needs.
func (o *Orchestrator) topUp(ctx context.Context, c *cycle, needed domain.TokenAmount) (Outcome, error) {
	s := o.settings

	c.stage = "quote"
	desired, err := domain.NewAmountFromUnits(s.SwapOutputToken,
		needed.Units().Mul(decimal.NewFromInt(1).Add(s.SwapBuffer.Div(hundred))), domain.RoundUp)
	if err != nil {
		return "", errors.Wrap(err, "size swap output")
	}
	required, err := o.quoter.RequiredInput(ctx, s.SourceToken, desired)
	if err != nil {
		return "", err
	}

	c.stage = "check_source"
	source, err := o.balances.GetBalance(ctx, o.wallets.EVM, s.SourceToken)
	if err != nil {
		return "", err
	}
	if source.Amount.LessThan(required) {
		c.logger.Warn("insufficient source funds",
			zap.String("required", required.String()),
			zap.String("available", source.Amount.String()))
		o.report.Emit(ctx, insufficientFundsEvent(o.wallets.EVM, required, source.Amount))
		return OutcomeInsufficientFunds, nil
	}

	c.stage = "swap"
	swap, err := o.swapper.Execute(ctx, required, s.SwapOutputToken, s.MaxPriceImpact, s.DryRun)
	if err != nil {
		return "", err
	}
	c.report.Swap = &swap
	o.report.SwapFinished(ctx, swap)

	switch swap.Status {
	case domain.SwapAborted:
		o.report.Emit(ctx, priceImpactEvent(swap, s.MaxPriceImpact))
		return OutcomePriceImpact, nil
	case domain.SwapUnverified:
		o.recordSwap(ctx, swap, "unverified")
		o.report.Emit(ctx, swapUnverifiedEvent(swap))
		return OutcomeSwapUnverified, nil
	}
	if swap.ActualOutput.IsZero() {
		o.recordSwap(ctx, swap, "no output observed")
		o.report.Emit(ctx, swapUnverifiedEvent(swap))
		return OutcomeSwapUnverified, nil
	}
	o.recordSwap(ctx, swap, "")

	var (
		simulated  *domain.TokenAmount
		unverified bool
		expected   = swap.ActualOutput.Convert(s.TargetToken)
	)
	if o.needsBridge() {
		c.stage = "bridge"
		burn, outcome, err := o.burn(ctx, c, swap.ActualOutput)
		if err != nil || outcome != "" {
			return outcome, err
		}

		c.stage = "verify"
		wait, err := o.verify(ctx, c, burn)
		if err != nil {
			return "", err
		}
		unverified = !wait.Observed
		if burn.Simulated {
			credited := burn.Amount.Convert(s.TargetToken)
			simulated = &credited
		}
	} else if swap.Status == domain.SwapSimulated {
		credited := swap.ActualOutput.Convert(s.TargetToken)
		simulated = &credited
	}

	c.stage = "transfer"
	res, available, err := o.settle(ctx, c, domain.RecordLedgerTransfer, simulated)
	if err != nil {
		return "", err
	}
	c.report.Transfer = res

	if res == nil {
		if unverified {
			return OutcomeBridgeUnverified, nil
		}
		if available.IsZero() {
			return o.creditNotSpendable(ctx, c, expected), nil
		}
		c.logger.Warn("nothing to forward after swap")
		return OutcomeToppedUp, nil
	}

	o.report.Emit(ctx, successEvent(*res, swap))
	return OutcomeToppedUp, nil
}

// burn submits a bridge burn of amount to the AO operating wallet.
// amount already sits on the EVM wallet, so any failure is alerted as
// stranded funds and ends the cycle.
func (o *Orchestrator) burn(ctx context.Context, c *cycle, amount domain.TokenAmount) (domain.BurnResult, Outcome, error) {
	res, err := o.bridge.Burn(ctx, amount, o.wallets.AO, o.settings.DryRun)
	if err != nil {
		var tx string
		if subErr, ok := domain.AsSubmissionError(err); ok {
			o.report.SubmissionFailed(ctx, subErr.Stage)
			tx = subErr.TxID
		}
		c.logger.Error("burn failed, funds stranded on source chain",
			zap.String("stage", c.stage),
			zap.String("tx", tx),
			zap.Error(err))
		o.report.Emit(ctx, strandedEvent(o.wallets.EVM, amount, err))
		return domain.BurnResult{}, OutcomeStranded, nil
	}

	c.report.Burn = &res
	if !res.Simulated {
		o.report.Record(ctx, domain.TransactionRecord{
			Kind:       domain.RecordBridgeBurn,
			Chain:      amount.Token.Ledger,
			FromToken:  amount.Token.Symbol,
			FromAmount: amount.Units(),
			ToToken:    o.settings.TargetToken.Symbol,
			ToAmount:   amount.Convert(o.settings.TargetToken).Units(),
			Rate:       decimal.NewFromInt(1),
			From:       o.wallets.EVM,
			To:         o.wallets.AO,
			TxIDs:      []string{res.TxID},
			Fee:        res.Fee,
		})
	}
	return res, "", nil
}

// verify waits for the credit of a burn. An unobserved credit is alerted, not an error.
func (o *Orchestrator) verify(ctx context.Context, c *cycle, burn domain.BurnResult) (domain.CreditWait, error) {
	if burn.Simulated {
		wait := domain.CreditWait{Observed: true}
		c.report.Credit = &wait
		return wait, nil
	}

	opts := o.settings.Bridge
	observer := opts.Observer
	opts.Observer = func(p domain.PollProgress) {
		c.logger.Debug("waiting for bridge credit",
			zap.Int("attempt", p.Attempt),
			zap.Duration("elapsed", p.Elapsed),
			zap.Error(p.Err))
		if observer != nil {
			observer(p)
		}
	}

	wait, err := o.bridge.WaitForCredit(ctx, burn, opts)
	if err != nil {
		return domain.CreditWait{}, err
	}
	c.report.Credit = &wait
	o.report.BridgeWaited(ctx, wait)

	if !wait.Observed {
		o.report.Emit(ctx, bridgeUnverifiedEvent(burn, wait))
	}
	return wait, nil
}

// creditNotSpendable alerts a credit the bridge reported that the operating
// wallet does not hold yet.
func (o *Orchestrator) creditNotSpendable(ctx context.Context, c *cycle, expected domain.TokenAmount) Outcome {
	wallet := o.operatingWallet()
	c.logger.Warn("credit observed but operating wallet is empty",
		zap.String("wallet", wallet),
		zap.String("expected", expected.String()))
	o.report.Emit(ctx, creditNotSpendableEvent(wallet, expected, c.report.Credit))
	return OutcomeCreditNotSpendable
}

// settle forwards min(operating balance, remaining need) to the target wallet.
// Both values are queried fresh and the available amount is returned with the
// transfer, which is nil when nothing was sendable.
// In dry runs simulated is added to the operating balance and transfers
// already simulated this cycle count as delivered.
func (o *Orchestrator) settle(ctx context.Context, c *cycle, kind domain.RecordKind, simulated *domain.TokenAmount) (*domain.TransferResult, domain.TokenAmount, error) {
	s := o.settings

	target, err := o.balances.GetBalance(ctx, s.TargetWallet, s.TargetToken)
	if err != nil {
		return nil, domain.TokenAmount{}, err
	}
	operating, err := o.balances.GetBalance(ctx, o.operatingWallet(), s.TargetToken)
	if err != nil {
		return nil, domain.TokenAmount{}, err
	}

	available := operating.Amount
	if simulated != nil {
		available = available.Add(*simulated)
	}
	available = available.SubFloor(c.simulatedOut)
	needed := domain.Needed(c.targetBalance, target.Amount.Add(c.simulatedOut))
	sendable := domain.Sendable(available, needed)
	if sendable.IsZero() {
		c.logger.Info("nothing to forward",
			zap.String("available", available.String()),
			zap.String("needed", needed.String()))
		return nil, available, nil
	}

	res, err := o.transfers.Transfer(ctx, sendable, s.TargetWallet, s.DryRun)
	if err != nil {
		return nil, available, err
	}
	c.logger.Info("forwarded to target wallet",
		zap.String("amount", sendable.String()),
		zap.String("id", res.ID),
		zap.Bool("simulated", res.Simulated))

	if res.Simulated {
		c.simulatedOut = c.simulatedOut.Add(sendable)
	} else {
		o.report.Record(ctx, domain.TransactionRecord{
			Kind:       kind,
			Chain:      s.TargetToken.Ledger,
			FromToken:  s.TargetToken.Symbol,
			FromAmount: sendable.Units(),
			ToToken:    s.TargetToken.Symbol,
			ToAmount:   sendable.Units(),
			Rate:       decimal.NewFromInt(1),
			From:       res.From,
			To:         res.Recipient,
			TxIDs:      []string{res.ID},
			Fee:        res.Fee,
		})
	}
	return &res, available, nil
}

func (o *Orchestrator) recordSwap(ctx context.Context, swap domain.SwapResult, note string) {
	if swap.Status == domain.SwapSimulated {
		return
	}
	o.report.Record(ctx, domain.TransactionRecord{
		Kind:        domain.RecordSourceSwap,
		Chain:       swap.Quote.Input.Token.Ledger,
		FromToken:   swap.Quote.Input.Token.Symbol,
		FromAmount:  swap.Quote.Input.Units(),
		ToToken:     swap.ExpectedOutput.Token.Symbol,
		ToAmount:    swap.ActualOutput.Units(),
		Rate:        swap.Quote.Price,
		PriceImpact: swap.Quote.PriceImpact,
		From:        o.wallets.EVM,
		To:          swap.Quote.Source,
		TxIDs:       swap.TxIDs,
		Fee:         swap.Fee,
		Note:        note,
	})
}
