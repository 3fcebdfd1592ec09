// Package oracle reads authoritative balances on demand. It never caches: every
// call produces a fresh snapshot.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/topup/internal/domain"
)

type evmReader interface {
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error)
}

type aoReader interface {
	Balance(ctx context.Context, process, owner string) (*big.Int, error)
}

// Request is one balance to read.
type Request struct {
	Owner string
	Token domain.Token
}

// Oracle dispatches balance reads to the ledger that holds the token.
type Oracle struct {
	evm evmReader
	ao  aoReader
	now func() time.Time
}

// New creates an Oracle.
func New(evm evmReader, ao aoReader) *Oracle {
	return &Oracle{evm: evm, ao: ao, now: time.Now}
}

// GetBalance returns a fresh snapshot of owner's balance of token.
func (o *Oracle) GetBalance(ctx context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error) {
	op := fmt.Sprintf("%s balance of %s", token, owner)

	var (
		raw *big.Int
		err error
	)
	switch {
	case token.Ledger == domain.LedgerEthereum && token.IsNative():
		raw, err = o.evm.NativeBalance(ctx, owner)
	case token.Ledger == domain.LedgerEthereum:
		raw, err = o.evm.ERC20Balance(ctx, token.ID, owner)
	case token.Ledger == domain.LedgerAO && !token.IsNative():
		raw, err = o.ao.Balance(ctx, token.ID, owner)
	default:
		err = fmt.Errorf("unsupported token %s", token)
	}
	if err != nil {
		return domain.BalanceSnapshot{}, domain.NewQueryError(op, err)
	}

	amount, err := domain.NewAmountFromRaw(token, raw)
	if err != nil {
		return domain.BalanceSnapshot{}, domain.NewQueryError(op, err)
	}

	return domain.NewBalanceSnapshot(owner, amount, o.now()), nil
}

// GetBalances reads all requests concurrently and returns snapshots in request
// order. The first failure cancels the remaining reads.
func (o *Oracle) GetBalances(ctx context.Context, requests ...Request) ([]domain.BalanceSnapshot, error) {
	snapshots := make([]domain.BalanceSnapshot, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			snap, err := o.GetBalance(gctx, req.Owner, req.Token)
			if err != nil {
				return err
			}
			snapshots[i] = snap
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}
