package topup

import (
	"context"

	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/oracle"
)

// recoverOperating forwards funds left in the operating wallets by earlier
// cycles before anything new is bought. The AO operating balance goes first,
// then swap output stranded on the EVM wallet is burned and bridged.
// A non-empty outcome ends the cycle.
func (o *Orchestrator) recoverOperating(ctx context.Context, c *cycle) (bool, Outcome, error) {
	s := o.settings

	requests := []oracle.Request{{Owner: o.operatingWallet(), Token: s.TargetToken}}
	if o.needsBridge() {
		requests = append(requests, oracle.Request{Owner: o.wallets.EVM, Token: s.SwapOutputToken})
	}
	snaps, err := o.balances.GetBalances(ctx, requests...)
	if err != nil {
		return false, "", err
	}

	recovered := false
	if !snaps[0].Amount.IsZero() {
		c.logger.Info("forwarding operating wallet balance", zap.String("available", snaps[0].Amount.String()))
		res, _, err := o.settle(ctx, c, domain.RecordRecoveryTransfer, nil)
		if err != nil {
			return false, "", err
		}
		if res != nil {
			c.report.Recovered = append(c.report.Recovered, *res)
			recovered = true
		}
	}

	if !o.needsBridge() || snaps[1].Amount.IsZero() {
		return recovered, "", nil
	}

	stranded := snaps[1].Amount
	c.logger.Warn("swap output stranded on the evm wallet, bridging", zap.String("amount", stranded.String()))

	c.stage = "recover_burn"
	burn, outcome, err := o.burn(ctx, c, stranded)
	if err != nil || outcome != "" {
		return false, outcome, err
	}

	c.stage = "recover_verify"
	wait, err := o.verify(ctx, c, burn)
	if err != nil {
		return false, "", err
	}

	c.stage = "recover_transfer"
	var simulated *domain.TokenAmount
	if burn.Simulated {
		credited := burn.Amount.Convert(s.TargetToken)
		simulated = &credited
	}
	res, available, err := o.settle(ctx, c, domain.RecordRecoveryTransfer, simulated)
	if err != nil {
		return false, "", err
	}
	if res != nil {
		c.report.Recovered = append(c.report.Recovered, *res)
	}

	// the credit may still land; no fresh swap until it is accounted for
	if !wait.Observed {
		return res != nil, OutcomeBridgeUnverified, nil
	}
	if res == nil && available.IsZero() {
		return recovered, o.creditNotSpendable(ctx, c, burn.Amount.Convert(s.TargetToken)), nil
	}
	return true, "", nil
}
