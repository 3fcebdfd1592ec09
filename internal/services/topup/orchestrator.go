// Package topup keeps a target wallet funded by swapping, bridging and
// transferring tokens. Every decision is made from freshly queried balances.
package topup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/bridge"
	"github.com/vadiminshakov/topup/internal/services/oracle"
)

// Outcome is the terminal state of a cycle.
type Outcome string

const (
	OutcomeSufficient        Outcome = "sufficient"
	OutcomeBelowMinTransfer  Outcome = "below_min_transfer"
	OutcomeRecovered         Outcome = "recovered"
	OutcomeToppedUp          Outcome = "topped_up"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomePriceImpact       Outcome = "price_impact_abort"
	OutcomeSwapUnverified    Outcome = "swap_unverified"
	OutcomeStranded          Outcome = "funds_stranded"
	OutcomeBridgeUnverified  Outcome = "bridge_unverified"
	// OutcomeCreditNotSpendable the bridge credit was observed but the operating wallet holds nothing.
	OutcomeCreditNotSpendable Outcome = "credit_not_spendable"
	OutcomeFailed             Outcome = "failed"
)

type balanceOracle interface {
	GetBalance(ctx context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error)
	GetBalances(ctx context.Context, requests ...oracle.Request) ([]domain.BalanceSnapshot, error)
}

type inputQuoter interface {
	RequiredInput(ctx context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error)
}

type swapper interface {
	Execute(ctx context.Context, input domain.TokenAmount, output domain.Token, maxPriceImpact decimal.Decimal, dryRun bool) (domain.SwapResult, error)
}

type bridger interface {
	Burn(ctx context.Context, amount domain.TokenAmount, destination string, dryRun bool) (domain.BurnResult, error)
	WaitForCredit(ctx context.Context, burn domain.BurnResult, opts bridge.WaitOptions) (domain.CreditWait, error)
}

type transferer interface {
	Transfer(ctx context.Context, amount domain.TokenAmount, recipient string, dryRun bool) (domain.TransferResult, error)
}

type reporter interface {
	Emit(ctx context.Context, event domain.Event)
	Record(ctx context.Context, rec domain.TransactionRecord)
	CycleFinished(ctx context.Context, outcome string)
	SwapFinished(ctx context.Context, res domain.SwapResult)
	SubmissionFailed(ctx context.Context, stage domain.Stage)
	BridgeWaited(ctx context.Context, wait domain.CreditWait)
	TargetObserved(ctx context.Context, snap domain.BalanceSnapshot)
}

// Settings are the thresholds and tokens of one deployment.
type Settings struct {
	TargetWallet string
	// SourceToken is spent on the EVM chain.
	SourceToken domain.Token
	// SwapOutputToken is bought on the EVM chain.
	SwapOutputToken domain.Token
	// TargetToken is held by TargetWallet.
	TargetToken domain.Token
	GasToken    domain.Token

	// MinBalance, TargetBalance and MinTransfer are in TargetToken units.
	MinBalance    decimal.Decimal
	TargetBalance decimal.Decimal
	MinTransfer   decimal.Decimal

	// MaxPriceImpact and SwapBuffer are percentages.
	MaxPriceImpact decimal.Decimal
	SwapBuffer     decimal.Decimal
	MinGasBalance  decimal.Decimal

	Bridge bridge.WaitOptions
	DryRun bool
}

// Wallets are the operating wallets signing on each ledger.
type Wallets struct {
	EVM string
	AO  string
}

// Report summarizes one cycle.
type Report struct {
	CycleID  string
	Outcome  Outcome
	Current  domain.TokenAmount
	Needed   domain.TokenAmount
	Swap     *domain.SwapResult
	Burn     *domain.BurnResult
	Credit   *domain.CreditWait
	Transfer *domain.TransferResult
	// Recovered amounts forwarded from operating wallets before any swap.
	Recovered []domain.TransferResult
}

// Orchestrator runs top-up cycles.
type Orchestrator struct {
	settings  Settings
	wallets   Wallets
	balances  balanceOracle
	quoter    inputQuoter
	swapper   swapper
	bridge    bridger
	transfers transferer
	report    reporter
	logger    *zap.Logger

	newID func() string
}

// New creates an Orchestrator.
func New(settings Settings, wallets Wallets, balances balanceOracle, quoter inputQuoter, swapper swapper, bridgeOps bridger, transfers transferer, report reporter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		settings:  settings,
		wallets:   wallets,
		balances:  balances,
		quoter:    quoter,
		swapper:   swapper,
		bridge:    bridgeOps,
		transfers: transfers,
		report:    report,
		logger:    logger.Named("topup"),
		newID:     func() string { return uuid.New().String() },
	}
}

// cycle is the state of one run.
type cycle struct {
	stage         string
	targetBalance domain.TokenAmount
	// simulatedOut dry-run transfers that never left the operating wallet
	simulatedOut domain.TokenAmount
	report       Report
	logger       *zap.Logger
}

// RunCycle runs one top-up cycle. Errors are already logged and alerted when returned.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	id := o.newID()
	ctx = domain.WithCycleID(ctx, id)

	c := &cycle{
		stage:        "check_target",
		simulatedOut: domain.ZeroAmount(o.settings.TargetToken),
		report:       Report{CycleID: id},
		logger:       o.logger.With(zap.String("cycle", id), zap.Bool("dry_run", o.settings.DryRun)),
	}

	started := time.Now()
	c.logger.Info("top-up cycle started")
	o.report.Emit(ctx, cycleStartEvent(o.settings))

	outcome, err := o.run(ctx, c)
	if err != nil {
		outcome = OutcomeFailed
		if subErr, ok := domain.AsSubmissionError(err); ok {
			o.report.SubmissionFailed(ctx, subErr.Stage)
		}
		c.logger.Error("top-up cycle failed", zap.String("stage", c.stage), zap.Error(err))
		o.report.Emit(ctx, failureEvent(c.stage, err))
	}

	c.report.Outcome = outcome
	o.report.CycleFinished(ctx, string(outcome))
	c.logger.Info("top-up cycle finished",
		zap.String("outcome", string(outcome)),
		zap.Duration("took", time.Since(started)))

	return c.report, err
}

func (o *Orchestrator) run(ctx context.Context, c *cycle) (Outcome, error) {
	s := o.settings

	snaps, err := o.balances.GetBalances(ctx,
		oracle.Request{Owner: s.TargetWallet, Token: s.TargetToken},
		oracle.Request{Owner: o.wallets.EVM, Token: s.GasToken},
	)
	if err != nil {
		return "", err
	}
	target, gas := snaps[0], snaps[1]
	o.report.TargetObserved(ctx, target)
	o.checkGas(ctx, gas)

	minBalance, err := o.targetAmount(s.MinBalance)
	if err != nil {
		return "", err
	}
	targetBalance, err := o.targetAmount(s.TargetBalance)
	if err != nil {
		return "", err
	}
	minTransfer, err := o.targetAmount(s.MinTransfer)
	if err != nil {
		return "", err
	}

	c.targetBalance = targetBalance
	c.report.Current = target.Amount
	if target.Amount.Cmp(minBalance) >= 0 {
		c.logger.Info("target balance sufficient",
			zap.String("current", target.Amount.String()),
			zap.String("min", minBalance.String()))
		return OutcomeSufficient, nil
	}

	needed := domain.Needed(targetBalance, target.Amount)
	c.report.Needed = needed
	if needed.LessThan(minTransfer) {
		c.logger.Info("needed amount below minimum transfer, skipping",
			zap.String("needed", needed.String()),
			zap.String("min_transfer", minTransfer.String()))
		return OutcomeBelowMinTransfer, nil
	}

	c.stage = "recover"
	recovered, outcome, err := o.recoverOperating(ctx, c)
	if err != nil || outcome != "" {
		return outcome, err
	}
	if recovered {
		fresh, err := o.balances.GetBalance(ctx, s.TargetWallet, s.TargetToken)
		if err != nil {
			return "", err
		}
		o.report.TargetObserved(ctx, fresh)
		current := fresh.Amount.Add(c.simulatedOut)
		c.report.Current = current
		needed = domain.Needed(targetBalance, current)
		c.report.Needed = needed
		if needed.IsZero() || needed.LessThan(minTransfer) {
			c.logger.Info("recovery covered the need", zap.String("current", current.String()))
			return OutcomeRecovered, nil
		}
	}

	return o.topUp(ctx, c, needed)
}

func (o *Orchestrator) checkGas(ctx context.Context, gas domain.BalanceSnapshot) {
	if o.settings.MinGasBalance.IsZero() || !gas.Amount.Units().LessThan(o.settings.MinGasBalance) {
		return
	}
	o.report.Emit(ctx, lowGasEvent(o.wallets.EVM, gas.Amount, o.settings.MinGasBalance))
}

func (o *Orchestrator) targetAmount(units decimal.Decimal) (domain.TokenAmount, error) {
	amount, err := domain.NewAmountFromUnits(o.settings.TargetToken, units, domain.RoundUp)
	if err != nil {
		return domain.TokenAmount{}, errors.Wrapf(err, "threshold %s", units)
	}
	return amount, nil
}

// operatingWallet is the wallet that receives bridged or swapped funds on the target ledger.
func (o *Orchestrator) operatingWallet() string {
	if o.settings.TargetToken.Ledger == domain.LedgerAO {
		return o.wallets.AO
	}
	return o.wallets.EVM
}

func (o *Orchestrator) needsBridge() bool {
	return !o.settings.SwapOutputToken.SameLedger(o.settings.TargetToken)
}
