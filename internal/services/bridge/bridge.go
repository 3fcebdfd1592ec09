// Package bridge burns tokens on the EVM chain and verifies the matching
// credit on the AO ledger.
package bridge

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/clients"
	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/evmtx"
)

type burner interface {
	Burn(ctx context.Context, bridge string, amount *big.Int, destination string) (string, error)
}

type balanceReader interface {
	GetBalance(ctx context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error)
}

// creditClockSkew is how far a credit timestamp may precede the burn it matches.
const creditClockSkew = 2 * time.Minute

type creditIndex interface {
	CreditNotices(ctx context.Context, process, recipient string) ([]clients.CreditNotice, error)
}

// WaitOptions bound a credit verification.
type WaitOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	// Tolerance relative difference accepted between expected and credited amounts, e.g. 0.001.
	Tolerance decimal.Decimal
	// MaxAge credits older than this are ignored.
	MaxAge   time.Duration
	Observer func(domain.PollProgress)
}

// Bridge moves a token from the EVM chain to its AO process.
type Bridge struct {
	contract  string
	source    domain.Token
	dest      domain.Token
	submitter *evmtx.Submitter
	burner    burner
	balances  balanceReader
	index     creditIndex
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Bridge. source is the ERC-20 burned on contract, dest the AO token credited.
func New(contract string, source, dest domain.Token, submitter *evmtx.Submitter, burner burner, balances balanceReader, index creditIndex, logger *zap.Logger) *Bridge {
	return &Bridge{
		contract:  contract,
		source:    source,
		dest:      dest,
		submitter: submitter,
		burner:    burner,
		balances:  balances,
		index:     index,
		logger:    logger.Named("bridge"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Burn destroys amount on the EVM chain for destination on the AO ledger.
// A reverted burn is returned as a stranded *domain.SubmissionError.
func (b *Bridge) Burn(ctx context.Context, amount domain.TokenAmount, destination string, dryRun bool) (domain.BurnResult, error) {
	if amount.Token != b.source {
		return domain.BurnResult{}, errors.Errorf("bridge burns %s, got %s", b.source, amount.Token)
	}
	if amount.IsZero() {
		return domain.BurnResult{}, errors.New("burn amount must be positive")
	}

	l := b.logger.With(
		zap.String("cycle", domain.CycleID(ctx)),
		zap.String("amount", amount.String()),
		zap.String("destination", destination))

	if dryRun {
		l.Info("dry run: burn simulated")
		return domain.BurnResult{Amount: amount, Destination: destination, Fee: decimal.Zero, Simulated: true}, nil
	}

	balance, err := b.balances.GetBalance(ctx, b.submitter.Address(), b.source)
	if err != nil {
		return domain.BurnResult{}, err
	}
	if balance.Amount.LessThan(amount) {
		return domain.BurnResult{}, errors.Wrapf(domain.ErrInsufficientFunds, "burn %s, wallet holds %s", amount, balance.Amount)
	}

	res := domain.BurnResult{Amount: amount, Destination: destination, Fee: decimal.Zero, SubmittedAt: b.now()}

	if !strings.EqualFold(b.contract, b.source.ID) {
		approval, err := b.submitter.EnsureAllowance(ctx, amount, b.contract)
		if err != nil {
			return domain.BurnResult{}, err
		}
		if approval != nil {
			res.Fee = res.Fee.Add(approval.Fee)
		}
	}

	receipt, err := b.submitter.Submit(ctx, domain.StageBurn, amount, destination, func(ctx context.Context) (string, error) {
		return b.burner.Burn(ctx, b.contract, amount.Raw(), destination)
	})
	if err != nil {
		return domain.BurnResult{}, err
	}

	res.TxID = receipt.TxID
	res.Fee = res.Fee.Add(receipt.Fee)
	l.Info("burn confirmed", zap.String("tx", res.TxID), zap.String("fee", res.Fee.String()))

	return res, nil
}

// WaitForCredit polls the AO message index until the credit of burn reaches
// its destination or MaxWait elapses. A timeout is reported as Observed=false, not an error.
//
// A notice matches when its amount is within tolerance, it is not older than
// the burn, and its source transaction tag, if any, names the burn.
func (b *Bridge) WaitForCredit(ctx context.Context, burn domain.BurnResult, opts WaitOptions) (domain.CreditWait, error) {
	if opts.PollInterval <= 0 || opts.MaxWait <= 0 {
		return domain.CreditWait{}, errors.New("poll interval and max wait must be positive")
	}

	destination := burn.Destination
	want := burn.Amount.Convert(b.dest)
	start := b.now()
	deadline := start.Add(opts.MaxWait)

	l := b.logger.With(
		zap.String("cycle", domain.CycleID(ctx)),
		zap.String("expected", want.String()),
		zap.String("destination", destination))

	for attempt := 1; ; attempt++ {
		credit, err := b.findCredit(ctx, burn, want, opts)
		elapsed := b.now().Sub(start)

		if opts.Observer != nil {
			opts.Observer(domain.PollProgress{Attempt: attempt, Elapsed: elapsed, Err: err})
		}
		if err != nil {
			l.Warn("credit index query failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if credit != nil {
			l.Info("bridge credit observed",
				zap.String("message", credit.ConfirmationID),
				zap.String("amount", credit.Amount.String()),
				zap.Duration("waited", elapsed))
			return domain.CreditWait{Observed: true, Credit: credit, Waited: elapsed, Attempts: attempt}, nil
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			l.Warn("bridge credit not observed in time", zap.Duration("waited", elapsed), zap.Int("attempts", attempt))
			return domain.CreditWait{Observed: false, Waited: elapsed, Attempts: attempt}, nil
		}

		wait := opts.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := b.sleep(ctx, wait); err != nil {
			return domain.CreditWait{Observed: false, Waited: b.now().Sub(start), Attempts: attempt}, err
		}
	}
}

func (b *Bridge) findCredit(ctx context.Context, burn domain.BurnResult, want domain.TokenAmount, opts WaitOptions) (*domain.BridgeCredit, error) {
	destination := burn.Destination
	notices, err := b.index.CreditNotices(ctx, b.dest.ID, destination)
	if err != nil {
		return nil, err
	}

	now := b.now()
	for _, n := range notices {
		if n.Recipient != destination || n.Quantity == nil {
			continue
		}
		if opts.MaxAge > 0 && now.Sub(n.Timestamp) > opts.MaxAge {
			continue
		}
		if !burn.SubmittedAt.IsZero() && n.Timestamp.Before(burn.SubmittedAt.Add(-creditClockSkew)) {
			continue
		}
		source := sourceTx(n.Tags)
		if source != "" && burn.TxID != "" && !strings.EqualFold(source, burn.TxID) {
			continue
		}

		got, err := domain.NewAmountFromRaw(b.dest, n.Quantity)
		if err != nil {
			continue
		}
		if !WithinTolerance(want, got, opts.Tolerance) {
			continue
		}

		return &domain.BridgeCredit{
			Destination:    destination,
			Amount:         got,
			SourceTxID:     source,
			ConfirmationID: n.ID,
			ObservedAt:     now,
		}, nil
	}

	return nil, nil
}

// WithinTolerance reports whether |got - want| <= want * tolerance.
func WithinTolerance(want, got domain.TokenAmount, tolerance decimal.Decimal) bool {
	diff := got.Units().Sub(want.Units()).Abs()
	return diff.LessThanOrEqual(want.Units().Mul(tolerance))
}

func sourceTx(tags map[string]string) string {
	for _, name := range []string{"X-Eth-Tx-Hash", "Eth-Tx-Hash", "X-Source-Tx"} {
		if v, ok := tags[name]; ok {
			return v
		}
	}
	return ""
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
