package transfer

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
	"github.com/vadiminshakov/topup/internal/services/evmtx"
	"github.com/vadiminshakov/topup/internal/storage/intents"
	evmMock "github.com/vadiminshakov/topup/mocks/evm"
)

const (
	aoOperator  = "OpErAt0rWa11etAddr3ssxxxxxxxxxxxxxxxxxxxxxx"
	target      = "QzYQeN3BNhT0u6VvqR4z6qH0h4Fq0Yb2kFkGm1Zl3xE"
	arioProcess = "qNvAoz0TgcH7DMg8BCVn8jF32QH5L6T29VjHxhHqqGE"
	evmWallet   = "0x00000000000000000000000000000000000000aa"
)

var (
	aoARIO = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerAO, ID: arioProcess, Decimals: 6}
	usdc   = domain.Token{Symbol: "USDC", Ledger: domain.LedgerEthereum, ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
)

type aoWalletMock struct {
	mock.Mock
}

func (m *aoWalletMock) Address() string { return aoOperator }

func (m *aoWalletMock) Transfer(ctx context.Context, process, recipient string, quantity *big.Int) (string, error) {
	args := m.Called(ctx, process, recipient, quantity)
	return args.String(0), args.Error(1)
}

func newRouter(t *testing.T) (*Router, *aoWalletMock, *evmMock.Chain, *intents.Journal) {
	t.Helper()
	ao := &aoWalletMock{}
	chain := evmMock.NewChain(t)
	chain.On("Address").Return(evmWallet).Maybe()

	journal, err := intents.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	return NewRouter(ao, evmtx.New(chain, journal, zap.NewNop()), chain, journal, zap.NewNop()), ao, chain, journal
}

func TestRouter_AOTransfer(t *testing.T) {
	r, ao, _, journal := newRouter(t)
	ao.On("Transfer", mock.Anything, arioProcess, target, evmMock.BigInt(50_000_000_000)).Return("msg-1", nil)

	res, err := r.Transfer(context.Background(), domain.MustUnits(aoARIO, "50000"), target, false)
	require.NoError(t, err)
	require.Equal(t, "msg-1", res.ID)
	require.Equal(t, aoOperator, res.From)
	require.Equal(t, target, res.Recipient)
	require.False(t, res.Simulated)
	require.Empty(t, journal.Pending())
	ao.AssertExpectations(t)
}

func TestRouter_AOTransferFailure(t *testing.T) {
	r, ao, _, _ := newRouter(t)
	ao.On("Transfer", mock.Anything, arioProcess, target, mock.Anything).Return("msg-2", errors.New("Transfer-Error: Insufficient Balance!"))

	_, err := r.Transfer(context.Background(), domain.MustUnits(aoARIO, "1"), target, false)
	subErr, ok := domain.AsSubmissionError(err)
	require.True(t, ok)
	require.Equal(t, domain.StageTransfer, subErr.Stage)
	require.Equal(t, "msg-2", subErr.TxID)
	require.False(t, subErr.Stranded())
}

func TestRouter_DryRun(t *testing.T) {
	r, ao, chain, _ := newRouter(t)

	res, err := r.Transfer(context.Background(), domain.MustUnits(aoARIO, "5"), target, true)
	require.NoError(t, err)
	require.True(t, res.Simulated)
	require.Empty(t, res.ID)

	res, err = r.Transfer(context.Background(), domain.MustUnits(usdc, "5"), evmWallet, true)
	require.NoError(t, err)
	require.True(t, res.Simulated)

	ao.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	chain.AssertNotCalled(t, "TransferERC20", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_ERC20Transfer(t *testing.T) {
	r, _, chain, _ := newRouter(t)
	chain.On("TransferERC20", mock.Anything, usdc.ID, "0xdest", evmMock.BigInt(5_000_000)).Return("0xt", nil)
	chain.On("WaitConfirmed", mock.Anything, "0xt").
		Return(domain.Receipt{TxID: "0xt", Success: true, Fee: decimal.RequireFromString("0.0003")}, nil)

	res, err := r.Transfer(context.Background(), domain.MustUnits(usdc, "5"), "0xdest", false)
	require.NoError(t, err)
	require.Equal(t, "0xt", res.ID)
	require.Equal(t, evmWallet, res.From)
	require.True(t, res.Fee.Equal(decimal.RequireFromString("0.0003")))
}

func TestRouter_RejectsZeroAndNative(t *testing.T) {
	r, _, _, _ := newRouter(t)

	_, err := r.Transfer(context.Background(), domain.ZeroAmount(aoARIO), target, false)
	require.Error(t, err)

	eth := domain.Token{Symbol: "ETH", Ledger: domain.LedgerEthereum, Decimals: 18}
	_, err = r.Transfer(context.Background(), domain.MustUnits(eth, "1"), evmWallet, false)
	require.Error(t, err)
}
