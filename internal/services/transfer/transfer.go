// Package transfer sends a token to a recipient on the token's own ledger.
package transfer

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/evmtx"
)

type aoWallet interface {
	Address() string
	Transfer(ctx context.Context, process, recipient string, quantity *big.Int) (string, error)
}

type erc20Sender interface {
	TransferERC20(ctx context.Context, token, to string, amount *big.Int) (string, error)
}

// Router dispatches transfers by ledger.
type Router struct {
	ao        aoWallet
	submitter *evmtx.Submitter
	erc20     erc20Sender
	journal   evmtx.Journal
	logger    *zap.Logger
}

// NewRouter creates a Router. Any backend may be nil when its ledger is not used.
func NewRouter(ao aoWallet, submitter *evmtx.Submitter, erc20 erc20Sender, journal evmtx.Journal, logger *zap.Logger) *Router {
	return &Router{ao: ao, submitter: submitter, erc20: erc20, journal: journal, logger: logger.Named("transfer")}
}

// Transfer sends amount to recipient from the operating wallet of amount's ledger.
func (r *Router) Transfer(ctx context.Context, amount domain.TokenAmount, recipient string, dryRun bool) (domain.TransferResult, error) {
	if amount.IsZero() {
		return domain.TransferResult{}, errors.New("transfer amount must be positive")
	}
	if amount.Token.IsNative() {
		return domain.TransferResult{}, errors.Errorf("native %s transfers are not supported", amount.Token)
	}

	switch amount.Token.Ledger {
	case domain.LedgerAO:
		return r.transferAO(ctx, amount, recipient, dryRun)
	case domain.LedgerEthereum:
		return r.transferERC20(ctx, amount, recipient, dryRun)
	default:
		return domain.TransferResult{}, errors.Errorf("no transfer route for ledger %s", amount.Token.Ledger)
	}
}

func (r *Router) transferAO(ctx context.Context, amount domain.TokenAmount, recipient string, dryRun bool) (domain.TransferResult, error) {
	if r.ao == nil {
		return domain.TransferResult{}, errors.New("ao wallet is not configured")
	}

	res := domain.TransferResult{Amount: amount, From: r.ao.Address(), Recipient: recipient, Fee: decimal.Zero}
	l := r.logger.With(
		zap.String("cycle", domain.CycleID(ctx)),
		zap.String("amount", amount.String()),
		zap.String("recipient", recipient))

	if dryRun {
		l.Info("dry run: transfer simulated")
		res.Simulated = true
		return res, nil
	}

	var intentID string
	if r.journal != nil {
		id, err := r.journal.Begin(ctx, domain.StageTransfer, amount, recipient)
		if err != nil {
			l.Warn("failed to journal transfer intent", zap.Error(err))
		}
		intentID = id
	}

	msgID, err := r.ao.Transfer(ctx, amount.Token.ID, recipient, amount.Raw())
	r.finish(intentID, msgID, err)
	if err != nil {
		return domain.TransferResult{}, &domain.SubmissionError{Stage: domain.StageTransfer, TxID: msgID, Err: err}
	}

	res.ID = msgID
	l.Info("transfer confirmed", zap.String("message", msgID))
	return res, nil
}

func (r *Router) transferERC20(ctx context.Context, amount domain.TokenAmount, recipient string, dryRun bool) (domain.TransferResult, error) {
	if r.submitter == nil || r.erc20 == nil {
		return domain.TransferResult{}, errors.New("evm wallet is not configured")
	}

	res := domain.TransferResult{Amount: amount, From: r.submitter.Address(), Recipient: recipient, Fee: decimal.Zero}
	if dryRun {
		r.logger.Info("dry run: transfer simulated",
			zap.String("cycle", domain.CycleID(ctx)),
			zap.String("amount", amount.String()),
			zap.String("recipient", recipient))
		res.Simulated = true
		return res, nil
	}

	receipt, err := r.submitter.Submit(ctx, domain.StageTransfer, amount, recipient, func(ctx context.Context) (string, error) {
		return r.erc20.TransferERC20(ctx, amount.Token.ID, recipient, amount.Raw())
	})
	if err != nil {
		return domain.TransferResult{}, err
	}

	res.ID = receipt.TxID
	res.Fee = receipt.Fee
	return res, nil
}

func (r *Router) finish(intentID, msgID string, cause error) {
	if intentID == "" {
		return
	}
	var err error
	if cause != nil {
		err = r.journal.Fail(intentID, msgID, cause)
	} else {
		err = r.journal.Complete(intentID, msgID)
	}
	if err != nil {
		r.logger.Warn("failed to update transfer intent", zap.String("intent", intentID), zap.Error(err))
	}
}
