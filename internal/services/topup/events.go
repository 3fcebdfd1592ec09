package topup

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/domain"
)

func cycleStartEvent(s Settings) domain.Event {
	e := domain.Event{
		Kind:     domain.EventCycleStart,
		Severity: domain.SeverityInfo,
		Title:    "Top-up cycle started",
		Message:  fmt.Sprintf("checking %s balance of %s", s.TargetToken.Symbol, s.TargetWallet),
	}
	if s.DryRun {
		e = e.With("mode", "dry run")
	}
	return e
}

func lowGasEvent(wallet string, balance domain.TokenAmount, floor decimal.Decimal) domain.Event {
	return domain.Event{
		Kind:     domain.EventLowGas,
		Severity: domain.SeverityWarning,
		Title:    "Low gas balance",
		Message:  fmt.Sprintf("operating wallet holds %s, below %s", balance, floor),
		Action:   fmt.Sprintf("Fund %s with %s", wallet, balance.Token.Symbol),
	}.With("wallet", wallet)
}

func insufficientFundsEvent(wallet string, required, available domain.TokenAmount) domain.Event {
	return domain.Event{
		Kind:     domain.EventInsufficientFunds,
		Severity: domain.SeverityCritical,
		Title:    "Insufficient source funds",
		Message:  fmt.Sprintf("swap needs %s, operating wallet holds %s", required, available),
		Action:   fmt.Sprintf("Deposit at least %s to %s", required.SubFloor(available), wallet),
	}.With("wallet", wallet)
}

func priceImpactEvent(swap domain.SwapResult, ceiling decimal.Decimal) domain.Event {
	return domain.Event{
		Kind:     domain.EventPriceImpactAbort,
		Severity: domain.SeverityWarning,
		Title:    "Swap aborted",
		Message: fmt.Sprintf("%s: %s%% above the %s%% ceiling",
			swap.AbortReason, swap.Quote.PriceImpact.StringFixed(2), ceiling),
		Action: "No funds moved. The next cycle retries with a fresh quote.",
	}.With("input", swap.Quote.Input.String()).
		With("expected_output", swap.ExpectedOutput.String()).
		With("source", swap.Quote.Source)
}

func swapUnverifiedEvent(swap domain.SwapResult) domain.Event {
	return domain.Event{
		Kind:     domain.EventSwapUnverified,
		Severity: domain.SeverityCritical,
		Title:    "Swap unverified",
		Message:  "funds likely moved, confirmation unverified",
		Action:   "Check the transactions on a block explorer. Output left on the operating wallet is bridged by the next cycle.",
	}.With("tx", strings.Join(swap.TxIDs, ", ")).
		With("expected_output", swap.ExpectedOutput.String())
}

func strandedEvent(wallet string, amount domain.TokenAmount, err error) domain.Event {
	e := domain.Event{
		Kind:     domain.EventFundsStranded,
		Severity: domain.SeverityCritical,
		Title:    "Funds stranded on source chain",
		Message:  fmt.Sprintf("burn of %s failed: %v", amount, err),
		Action:   fmt.Sprintf("%s remains on %s. The next cycle retries the burn; burn manually if it keeps failing.", amount, wallet),
	}
	if subErr, ok := domain.AsSubmissionError(err); ok {
		e = e.With("stage", string(subErr.Stage))
		if subErr.TxID != "" {
			e = e.With("tx", subErr.TxID)
		}
	}
	return e
}

func creditNotSpendableEvent(wallet string, expected domain.TokenAmount, wait *domain.CreditWait) domain.Event {
	e := domain.Event{
		Kind:     domain.EventCreditNotSpendable,
		Severity: domain.SeverityWarning,
		Title:    "Bridge credit not spendable",
		Message:  fmt.Sprintf("credit of %s was reported but %s holds no %s", expected, wallet, expected.Token.Symbol),
		Action:   fmt.Sprintf("Check the %s balance of %s. Funds that arrive are forwarded by the next cycle.", expected.Token.Symbol, wallet),
	}.With("wallet", wallet)
	if wait != nil && wait.Credit != nil {
		e = e.With("credit", wait.Credit.ConfirmationID)
		if wait.Credit.SourceTxID != "" {
			e = e.With("source_tx", wait.Credit.SourceTxID)
		}
	}
	return e
}

func bridgeUnverifiedEvent(burn domain.BurnResult, wait domain.CreditWait) domain.Event {
	return domain.Event{
		Kind:     domain.EventBridgeUnverified,
		Severity: domain.SeverityWarning,
		Title:    "Bridge credit not observed",
		Message:  fmt.Sprintf("no credit of %s seen after %s (%d polls)", burn.Amount, wait.Waited, wait.Attempts),
		Action:   fmt.Sprintf("Check for a Credit-Notice to %s. A late credit is forwarded by the next cycle.", burn.Destination),
	}.With("burn_tx", burn.TxID)
}

func successEvent(res domain.TransferResult, swap domain.SwapResult) domain.Event {
	e := domain.Event{
		Kind:     domain.EventTopUpSuccess,
		Severity: domain.SeverityInfo,
		Title:    "Target wallet topped up",
		Message:  fmt.Sprintf("sent %s to %s", res.Amount, res.Recipient),
	}.With("transfer", res.ID).
		With("swap_input", swap.Quote.Input.String()).
		With("price_impact", swap.Quote.PriceImpact.StringFixed(4)+"%")
	if res.Simulated {
		e = e.With("mode", "dry run")
	}
	return e
}

func failureEvent(stage string, err error) domain.Event {
	action := "Inspect the logs for this cycle. The next scheduled cycle retries from fresh balances."
	if subErr, ok := domain.AsSubmissionError(err); ok && subErr.TxID != "" {
		action = fmt.Sprintf("Check %s transaction %s before the next cycle.", subErr.Stage, subErr.TxID)
	}
	return domain.Event{
		Kind:     domain.EventFailure,
		Severity: domain.SeverityCritical,
		Title:    fmt.Sprintf("Top-up failed at %s", stage),
		Message:  err.Error(),
		Action:   action,
	}
}
