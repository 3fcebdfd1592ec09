package evmtx

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/storage/intents"
	evmMock "github.com/vadiminshakov/topup/mocks/evm"
)

const wallet = "0x00000000000000000000000000000000000000aa"

var usdc = domain.Token{Symbol: "USDC", Ledger: domain.LedgerEthereum, ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}

func newTestSubmitter(t *testing.T) (*Submitter, *evmMock.Chain, *intents.Journal) {
	t.Helper()
	chain := evmMock.NewChain(t)
	chain.On("Address").Return(wallet).Maybe()

	journal, err := intents.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	return New(chain, journal, zap.NewNop()), chain, journal
}

func TestSubmitter_Confirmed(t *testing.T) {
	s, chain, journal := newTestSubmitter(t)
	chain.On("WaitConfirmed", mock.Anything, "0x1").
		Return(domain.Receipt{TxID: "0x1", Success: true, Block: 9, Fee: decimal.RequireFromString("0.001")}, nil)

	receipt, err := s.Submit(context.Background(), domain.StageSwap, domain.MustUnits(usdc, "10"), "0xrouter",
		func(context.Context) (string, error) { return "0x1", nil })
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Empty(t, journal.Pending())
}

func TestSubmitter_Reverted(t *testing.T) {
	s, chain, journal := newTestSubmitter(t)
	chain.On("WaitConfirmed", mock.Anything, "0x2").Return(domain.Receipt{TxID: "0x2", Success: false, Block: 3}, nil)

	_, err := s.Submit(context.Background(), domain.StageBurn, domain.MustUnits(usdc, "10"), "0xbridge",
		func(context.Context) (string, error) { return "0x2", nil })

	subErr, ok := domain.AsSubmissionError(err)
	require.True(t, ok)
	require.True(t, subErr.Reverted)
	require.True(t, subErr.Stranded())
	require.Equal(t, "0x2", subErr.TxID)
	require.Empty(t, journal.Pending())
}

func TestSubmitter_BroadcastFailure(t *testing.T) {
	s, _, _ := newTestSubmitter(t)

	_, err := s.Submit(context.Background(), domain.StageSwap, domain.MustUnits(usdc, "10"), "0xrouter",
		func(context.Context) (string, error) { return "", errors.New("nonce too low") })

	subErr, ok := domain.AsSubmissionError(err)
	require.True(t, ok)
	require.Equal(t, domain.StageSwap, subErr.Stage)
	require.Empty(t, subErr.TxID)
	require.False(t, subErr.Stranded())
}

func TestSubmitter_UnconfirmedStaysVisible(t *testing.T) {
	s, chain, journal := newTestSubmitter(t)
	chain.On("WaitConfirmed", mock.Anything, "0x3").Return(domain.Receipt{}, context.DeadlineExceeded)

	_, err := s.Submit(context.Background(), domain.StageTransfer, domain.MustUnits(usdc, "1"), "0xdest",
		func(context.Context) (string, error) { return "0x3", nil })
	require.Error(t, err)
	require.Empty(t, journal.Pending(), "timeouts are journaled as failed with the tx id for reconciliation")
}

func TestSubmitter_EnsureAllowance(t *testing.T) {
	t.Run("sufficient allowance skips approval", func(t *testing.T) {
		s, chain, _ := newTestSubmitter(t)
		chain.On("Allowance", mock.Anything, usdc.ID, wallet, "0xspender").Return(big.NewInt(10_000_000), nil)

		receipt, err := s.EnsureAllowance(context.Background(), domain.MustUnits(usdc, "10"), "0xspender")
		require.NoError(t, err)
		require.Nil(t, receipt)
		chain.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("low allowance approves the exact amount", func(t *testing.T) {
		s, chain, _ := newTestSubmitter(t)
		chain.On("Allowance", mock.Anything, usdc.ID, wallet, "0xspender").Return(big.NewInt(1), nil)
		chain.On("Approve", mock.Anything, usdc.ID, "0xspender", evmMock.BigInt(10_000_000)).Return("0xa", nil)
		chain.On("WaitConfirmed", mock.Anything, "0xa").Return(domain.Receipt{TxID: "0xa", Success: true}, nil)

		receipt, err := s.EnsureAllowance(context.Background(), domain.MustUnits(usdc, "10"), "0xspender")
		require.NoError(t, err)
		require.NotNil(t, receipt)
		require.Equal(t, "0xa", receipt.TxID)
	})

	t.Run("allowance read failure", func(t *testing.T) {
		s, chain, _ := newTestSubmitter(t)
		chain.On("Allowance", mock.Anything, usdc.ID, wallet, "0xspender").Return(nil, errors.New("rpc"))

		_, err := s.EnsureAllowance(context.Background(), domain.MustUnits(usdc, "10"), "0xspender")
		subErr, ok := domain.AsSubmissionError(err)
		require.True(t, ok)
		require.Equal(t, domain.StageApprove, subErr.Stage)
	})
}
