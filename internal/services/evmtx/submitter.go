// Package evmtx submits transactions from the EVM operating wallet, waits for
// their receipts and journals every attempt.
package evmtx

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
)

// Chain is the EVM operating wallet.
type Chain interface {
	Address() string
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error)
	WaitConfirmed(ctx context.Context, txID string) (domain.Receipt, error)
}

// Journal records submission intents.
type Journal interface {
	Begin(ctx context.Context, stage domain.Stage, amount domain.TokenAmount, target string) (string, error)
	Complete(id, txID string) error
	Fail(id, txID string, cause error) error
}

// SendFunc broadcasts one transaction and returns its hash.
type SendFunc func(ctx context.Context) (string, error)

// Submitter serializes submissions from one wallet.
type Submitter struct {
	chain   Chain
	journal Journal
	logger  *zap.Logger
}

// New creates a Submitter. journal may be nil.
func New(chain Chain, journal Journal, logger *zap.Logger) *Submitter {
	if journal == nil {
		journal = nopJournal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{chain: chain, journal: journal, logger: logger}
}

// Address returns the operating wallet address.
func (s *Submitter) Address() string { return s.chain.Address() }

// Submit journals the intent, broadcasts with send and waits for the receipt.
// Broadcast failures, confirmation failures and reverts are returned as *domain.SubmissionError.
func (s *Submitter) Submit(ctx context.Context, stage domain.Stage, amount domain.TokenAmount, target string, send SendFunc) (domain.Receipt, error) {
	intentID, err := s.journal.Begin(ctx, stage, amount, target)
	if err != nil {
		// journal write failures never block a submission
		s.logger.Warn("failed to journal submission intent", zap.String("stage", string(stage)), zap.Error(err))
	}

	txID, err := send(ctx)
	if err != nil {
		s.finish(intentID, "", err)
		return domain.Receipt{}, &domain.SubmissionError{Stage: stage, Err: err}
	}

	s.logger.Info("transaction submitted",
		zap.String("stage", string(stage)),
		zap.String("tx", txID),
		zap.String("amount", amount.String()),
		zap.String("target", target),
		zap.String("cycle", domain.CycleID(ctx)))

	receipt, err := s.chain.WaitConfirmed(ctx, txID)
	if err != nil {
		s.finish(intentID, txID, err)
		return domain.Receipt{}, &domain.SubmissionError{Stage: stage, TxID: txID, Err: errors.Wrap(err, "await confirmation")}
	}
	if !receipt.Success {
		revert := errors.Errorf("transaction %s reverted in block %d", txID, receipt.Block)
		s.finish(intentID, txID, revert)
		return receipt, &domain.SubmissionError{Stage: stage, TxID: txID, Reverted: true, Err: revert}
	}

	s.finish(intentID, txID, nil)
	s.logger.Info("transaction confirmed",
		zap.String("stage", string(stage)),
		zap.String("tx", txID),
		zap.Uint64("block", receipt.Block),
		zap.String("fee", receipt.Fee.String()))

	return receipt, nil
}

// EnsureAllowance approves spender for exactly amount when the current allowance is lower.
// It returns nil when no approval was needed.
func (s *Submitter) EnsureAllowance(ctx context.Context, amount domain.TokenAmount, spender string) (*domain.Receipt, error) {
	current, err := s.chain.Allowance(ctx, amount.Token.ID, s.chain.Address(), spender)
	if err != nil {
		return nil, &domain.SubmissionError{Stage: domain.StageApprove, Err: errors.Wrap(err, "read allowance")}
	}
	if current.Cmp(amount.Raw()) >= 0 {
		s.logger.Debug("allowance sufficient",
			zap.String("token", amount.Token.Symbol),
			zap.String("spender", spender),
			zap.String("allowance", current.String()))
		return nil, nil
	}

	receipt, err := s.Submit(ctx, domain.StageApprove, amount, spender, func(ctx context.Context) (string, error) {
		return s.chain.Approve(ctx, amount.Token.ID, spender, amount.Raw())
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Submitter) finish(intentID, txID string, cause error) {
	if intentID == "" {
		return
	}

	var err error
	if cause != nil {
		err = s.journal.Fail(intentID, txID, cause)
	} else {
		err = s.journal.Complete(intentID, txID)
	}
	if err != nil {
		s.logger.Warn("failed to update submission intent", zap.String("intent", intentID), zap.Error(err))
	}
}

type nopJournal struct{}

func (nopJournal) Begin(context.Context, domain.Stage, domain.TokenAmount, string) (string, error) {
	return "", nil
}
func (nopJournal) Complete(string, string) error    { return nil }
func (nopJournal) Fail(string, string, error) error { return nil }
