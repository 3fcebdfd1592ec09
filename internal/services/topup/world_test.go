package topup

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/bridge"
	"github.com/vadiminshakov/topup/internal/services/oracle"
)

const (
	targetWallet = "TaRgEtWa11etxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	aoOperator   = "OpErAt0rWa11etxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	evmOperator  = "0x00000000000000000000000000000000000000aa"
	arioProcess  = "qNvAoz0TgcH7DMg8BCVn8jF32QH5L6T29VjHxhHqqGE"
)

var (
	usdc    = domain.Token{Symbol: "USDC", Ledger: domain.LedgerEthereum, ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
	ethARIO = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerEthereum, ID: "0x138746adfA52909E5920def027f5a8dc1C7EfFb6", Decimals: 6}
	aoARIO  = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerAO, ID: arioProcess, Decimals: 6}
	eth     = domain.Token{Symbol: "ETH", Ledger: domain.LedgerEthereum, Decimals: 18}
)

// world is an in-memory model of both ledgers. Fakes move funds between its
// wallets so that consecutive cycles observe the effects of earlier ones.
type world struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	readErr  map[string]error

	impact      decimal.Decimal
	outputPerIn decimal.Decimal
	swapStatus  domain.SwapStatus
	burnErr     error
	creditLands bool
	// creditUnmatched credits the destination without the wait observing it.
	creditUnmatched bool
	// creditPhantom reports the credit observed without crediting the destination.
	creditPhantom bool
	transferErr   error
	submissions   []string
	burns         []domain.TokenAmount
	transfers     []domain.TokenAmount
	executeCalls  int
}

func newWorld() *world {
	return &world{
		balances:    make(map[string]*big.Int),
		readErr:     make(map[string]error),
		impact:      decimal.RequireFromString("0.5"),
		outputPerIn: decimal.NewFromInt(50),
		swapStatus:  domain.SwapExecuted,
		creditLands: true,
	}
}

func key(owner string, token domain.Token) string {
	return fmt.Sprintf("%s|%s|%s", owner, token.Ledger, token.ID)
}

func (w *world) set(owner string, token domain.Token, units string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[key(owner, token)] = domain.MustUnits(token, units).Raw()
}

func (w *world) balance(owner string, token domain.Token) domain.TokenAmount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.amountLocked(owner, token)
}

func (w *world) amountLocked(owner string, token domain.Token) domain.TokenAmount {
	raw, ok := w.balances[key(owner, token)]
	if !ok {
		return domain.ZeroAmount(token)
	}
	a, _ := domain.NewAmountFromRaw(token, raw)
	return a
}

func (w *world) move(from, to string, amount domain.TokenAmount, toToken domain.Token) {
	src := w.amountLocked(from, amount.Token)
	w.balances[key(from, amount.Token)] = src.SubFloor(amount).Raw()
	credited := amount.Convert(toToken)
	w.balances[key(to, toToken)] = w.amountLocked(to, toToken).Add(credited).Raw()
}

func (w *world) GetBalance(_ context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.readErr[key(owner, token)]; err != nil {
		return domain.BalanceSnapshot{}, domain.NewQueryError("balance", err)
	}
	return domain.BalanceSnapshot{Owner: owner, Amount: w.amountLocked(owner, token), QueriedAt: time.Now()}, nil
}

func (w *world) GetBalances(ctx context.Context, reqs ...oracle.Request) ([]domain.BalanceSnapshot, error) {
	out := make([]domain.BalanceSnapshot, 0, len(reqs))
	for _, r := range reqs {
		snap, err := w.GetBalance(ctx, r.Owner, r.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Execute models the swap executor: gate, then source debited and output credited.
func (w *world) Execute(_ context.Context, input domain.TokenAmount, output domain.Token, maxImpact decimal.Decimal, dryRun bool) (domain.SwapResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.executeCalls++

	expected, _ := domain.NewAmountFromUnits(output, input.Units().Mul(w.outputPerIn), domain.RoundDown)
	q := domain.Quote{Input: input, ExpectedOutput: expected, PriceImpact: w.impact, Price: w.outputPerIn, Source: "uniswap-v2:test"}

	if q.ExceedsImpact(maxImpact) {
		return domain.SwapResult{Status: domain.SwapAborted, Quote: q, ExpectedOutput: expected, ActualOutput: domain.ZeroAmount(output), AbortReason: domain.AbortReasonPriceImpact}, nil
	}
	if dryRun {
		return domain.SwapResult{Status: domain.SwapSimulated, Quote: q, ExpectedOutput: expected, ActualOutput: expected}, nil
	}

	w.submissions = append(w.submissions, "swap")
	w.move(evmOperator, "pool", input, input.Token)
	w.balances[key(evmOperator, output)] = w.amountLocked(evmOperator, output).Add(expected).Raw()

	res := domain.SwapResult{Status: w.swapStatus, Quote: q, ExpectedOutput: expected, TxIDs: []string{"0xswap"}, Fee: decimal.RequireFromString("0.004")}
	if w.swapStatus == domain.SwapExecuted {
		res.ActualOutput = expected
	} else {
		res.ActualOutput = domain.ZeroAmount(output)
	}
	return res, nil
}

func (w *world) Burn(_ context.Context, amount domain.TokenAmount, destination string, dryRun bool) (domain.BurnResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dryRun {
		return domain.BurnResult{Amount: amount, Destination: destination, Simulated: true}, nil
	}
	w.submissions = append(w.submissions, "burn")
	if w.burnErr != nil {
		return domain.BurnResult{}, w.burnErr
	}
	w.burns = append(w.burns, amount)
	w.balances[key(evmOperator, amount.Token)] = w.amountLocked(evmOperator, amount.Token).SubFloor(amount).Raw()
	return domain.BurnResult{TxID: "0xburn", Amount: amount, Destination: destination, Fee: decimal.RequireFromString("0.002")}, nil
}

func (w *world) WaitForCredit(_ context.Context, burn domain.BurnResult, opts bridge.WaitOptions) (domain.CreditWait, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	destination, expected := burn.Destination, burn.Amount
	if !w.creditLands {
		return domain.CreditWait{Observed: false, Waited: opts.MaxWait, Attempts: 3}, nil
	}
	credited := expected.Convert(aoARIO)
	if w.creditPhantom {
		return domain.CreditWait{
			Observed: true,
			Credit:   &domain.BridgeCredit{Destination: destination, Amount: credited, ConfirmationID: "credit-stale", SourceTxID: "0xprevious"},
			Waited:   time.Second,
			Attempts: 1,
		}, nil
	}
	w.balances[key(destination, aoARIO)] = w.amountLocked(destination, aoARIO).Add(credited).Raw()
	if w.creditUnmatched {
		return domain.CreditWait{Observed: false, Waited: opts.MaxWait, Attempts: 3}, nil
	}
	return domain.CreditWait{
		Observed: true,
		Credit:   &domain.BridgeCredit{Destination: destination, Amount: credited, ConfirmationID: "credit-1"},
		Waited:   time.Minute,
		Attempts: 2,
	}, nil
}

func (w *world) Transfer(_ context.Context, amount domain.TokenAmount, recipient string, dryRun bool) (domain.TransferResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	res := domain.TransferResult{Amount: amount, From: aoOperator, Recipient: recipient, Fee: decimal.Zero}
	if dryRun {
		res.Simulated = true
		return res, nil
	}
	w.submissions = append(w.submissions, "transfer")
	if w.transferErr != nil {
		return domain.TransferResult{}, &domain.SubmissionError{Stage: domain.StageTransfer, TxID: "msg-x", Err: w.transferErr}
	}
	w.transfers = append(w.transfers, amount)
	w.move(aoOperator, recipient, amount, amount.Token)
	res.ID = fmt.Sprintf("msg-%d", len(w.transfers))
	return res, nil
}

// sink collects everything the orchestrator reports.
type sink struct {
	mu       sync.Mutex
	events   []domain.Event
	records  []domain.TransactionRecord
	outcomes []string
	swaps    []domain.SwapStatus
	waits    []domain.CreditWait
	failures []domain.Stage
	targets  []domain.TokenAmount
}

func (s *sink) Emit(_ context.Context, e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) Record(_ context.Context, r domain.TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *sink) CycleFinished(_ context.Context, outcome string) {
	s.outcomes = append(s.outcomes, outcome)
}

func (s *sink) SwapFinished(_ context.Context, res domain.SwapResult) {
	s.swaps = append(s.swaps, res.Status)
}

func (s *sink) SubmissionFailed(_ context.Context, stage domain.Stage) {
	s.failures = append(s.failures, stage)
}

func (s *sink) BridgeWaited(_ context.Context, wait domain.CreditWait) {
	s.waits = append(s.waits, wait)
}

func (s *sink) TargetObserved(_ context.Context, snap domain.BalanceSnapshot) {
	s.targets = append(s.targets, snap.Amount)
}

func (s *sink) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *sink) recordKinds() []domain.RecordKind {
	out := make([]domain.RecordKind, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Kind)
	}
	return out
}

func (w *world) RequiredInput(_ context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error) {
	return domain.NewAmountFromUnits(input, desired.Units().Div(w.outputPerIn), domain.RoundUp)
}
