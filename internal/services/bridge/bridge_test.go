package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/clients"
	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/evmtx"
	evmMock "github.com/vadiminshakov/topup/mocks/evm"
	oracleMock "github.com/vadiminshakov/topup/mocks/oracle"
)

const (
	wallet      = "0x00000000000000000000000000000000000000aa"
	destination = "QzYQeN3BNhT0u6VvqR4z6qH0h4Fq0Yb2kFkGm1Zl3xE"
	arioProcess = "qNvAoz0TgcH7DMg8BCVn8jF32QH5L6T29VjHxhHqqGE"
	bridgeAddr  = "0x0000000000000000000000000000000000000b1d"
)

var (
	ethARIO = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerEthereum, ID: "0x138746adfA52909E5920def027f5a8dc1C7EfFb6", Decimals: 6}
	aoARIO  = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerAO, ID: arioProcess, Decimals: 6}
)

type creditIndexMock struct {
	mock.Mock
}

func (m *creditIndexMock) CreditNotices(ctx context.Context, process, recipient string) ([]clients.CreditNotice, error) {
	args := m.Called(ctx, process, recipient)
	v, _ := args.Get(0).([]clients.CreditNotice)
	return v, args.Error(1)
}

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

type fixture struct {
	bridge   *Bridge
	chain    *evmMock.Chain
	balances *oracleMock.Balances
	index    *creditIndexMock
	clock    *fakeClock
}

func newFixture(t *testing.T, contract string) *fixture {
	t.Helper()
	f := &fixture{
		chain:    evmMock.NewChain(t),
		balances: oracleMock.NewBalances(t),
		index:    &creditIndexMock{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.chain.On("Address").Return(wallet).Maybe()
	f.bridge = New(contract, ethARIO, aoARIO, evmtx.New(f.chain, nil, zap.NewNop()), f.chain, f.balances, f.index, zap.NewNop())
	f.bridge.now = f.clock.Now
	f.bridge.sleep = f.clock.Sleep
	return f
}

func notice(id string, units int64, at time.Time) clients.CreditNotice {
	return clients.CreditNotice{
		ID:        id,
		Recipient: destination,
		Quantity:  new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000)),
		Sender:    "bridge-relayer",
		Tags:      map[string]string{"X-Eth-Tx-Hash": "0xburn"},
		Timestamp: at,
	}
}

func (f *fixture) burnOf(units string) domain.BurnResult {
	return domain.BurnResult{
		TxID:        "0xburn",
		Amount:      domain.MustUnits(ethARIO, units),
		Destination: destination,
		SubmittedAt: f.clock.now,
	}
}

func TestBridge_BurnTokenIsBridge(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	amount := domain.MustUnits(ethARIO, "50000")

	f.balances.On("GetBalance", mock.Anything, wallet, ethARIO).Return(oracleMock.Snapshot(wallet, ethARIO, "50000"), nil)
	f.chain.On("Burn", mock.Anything, ethARIO.ID, evmMock.BigInt(50_000_000_000), destination).Return("0xburn", nil)
	f.chain.On("WaitConfirmed", mock.Anything, "0xburn").
		Return(domain.Receipt{TxID: "0xburn", Success: true, Fee: decimal.RequireFromString("0.002")}, nil)

	res, err := f.bridge.Burn(context.Background(), amount, destination, false)
	require.NoError(t, err)
	require.Equal(t, "0xburn", res.TxID)
	require.Equal(t, f.clock.now, res.SubmittedAt)
	require.True(t, res.Fee.Equal(decimal.RequireFromString("0.002")))
	f.chain.AssertNotCalled(t, "Allowance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBridge_BurnSeparateContractApproves(t *testing.T) {
	f := newFixture(t, bridgeAddr)
	amount := domain.MustUnits(ethARIO, "10")

	f.balances.On("GetBalance", mock.Anything, wallet, ethARIO).Return(oracleMock.Snapshot(wallet, ethARIO, "11"), nil)
	f.chain.On("Allowance", mock.Anything, ethARIO.ID, wallet, bridgeAddr).Return(big.NewInt(0), nil)
	f.chain.On("Approve", mock.Anything, ethARIO.ID, bridgeAddr, evmMock.BigInt(10_000_000)).Return("0xapprove", nil)
	f.chain.On("WaitConfirmed", mock.Anything, "0xapprove").Return(domain.Receipt{TxID: "0xapprove", Success: true}, nil)
	f.chain.On("Burn", mock.Anything, bridgeAddr, evmMock.BigInt(10_000_000), destination).Return("0xburn", nil)
	f.chain.On("WaitConfirmed", mock.Anything, "0xburn").Return(domain.Receipt{TxID: "0xburn", Success: true}, nil)

	res, err := f.bridge.Burn(context.Background(), amount, destination, false)
	require.NoError(t, err)
	require.Equal(t, "0xburn", res.TxID)
}

func TestBridge_BurnInsufficientFunds(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	f.balances.On("GetBalance", mock.Anything, wallet, ethARIO).Return(oracleMock.Snapshot(wallet, ethARIO, "9.99"), nil)

	_, err := f.bridge.Burn(context.Background(), domain.MustUnits(ethARIO, "10"), destination, false)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	f.chain.AssertNotCalled(t, "Burn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBridge_BurnRevertedIsStranded(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	f.balances.On("GetBalance", mock.Anything, wallet, ethARIO).Return(oracleMock.Snapshot(wallet, ethARIO, "10"), nil)
	f.chain.On("Burn", mock.Anything, ethARIO.ID, mock.Anything, destination).Return("0xburn", nil)
	f.chain.On("WaitConfirmed", mock.Anything, "0xburn").Return(domain.Receipt{TxID: "0xburn", Success: false}, nil)

	_, err := f.bridge.Burn(context.Background(), domain.MustUnits(ethARIO, "10"), destination, false)
	subErr, ok := domain.AsSubmissionError(err)
	require.True(t, ok)
	require.True(t, subErr.Stranded())
}

func TestBridge_BurnDryRun(t *testing.T) {
	f := newFixture(t, ethARIO.ID)

	res, err := f.bridge.Burn(context.Background(), domain.MustUnits(ethARIO, "10"), destination, true)
	require.NoError(t, err)
	require.True(t, res.Simulated)
	require.Empty(t, res.TxID)
}

func TestBridge_WaitForCreditObserved(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return(nil, errors.New("gateway timeout")).Once()
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return([]clients.CreditNotice{
		notice("old", 50000, f.clock.now.Add(-3*time.Hour)),
		notice("other-amount", 1, f.clock.now),
	}, nil).Once()
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return([]clients.CreditNotice{
		notice("fresh", 49990, f.clock.now.Add(time.Minute)),
	}, nil).Once()

	var progress []domain.PollProgress
	wait, err := f.bridge.WaitForCredit(context.Background(), f.burnOf("50000"), WaitOptions{
		MaxWait:      10 * time.Minute,
		PollInterval: 30 * time.Second,
		Tolerance:    decimal.RequireFromString("0.001"),
		MaxAge:       time.Hour,
		Observer:     func(p domain.PollProgress) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	require.True(t, wait.Observed)
	require.Equal(t, 3, wait.Attempts)
	require.Equal(t, "fresh", wait.Credit.ConfirmationID)
	require.Equal(t, "0xburn", wait.Credit.SourceTxID)
	require.Equal(t, aoARIO, wait.Credit.Amount.Token)

	require.Len(t, progress, 3)
	require.Error(t, progress[0].Err)
	require.NoError(t, progress[1].Err)
	require.Equal(t, 30*time.Second, progress[1].Elapsed)
	f.index.AssertExpectations(t)
}

func TestBridge_WaitForCreditIgnoresEarlierBurns(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	burn := f.burnOf("50000")

	stale := notice("old-credit", 50000, f.clock.now.Add(-40*time.Minute))
	stale.Tags = map[string]string{"X-Eth-Tx-Hash": "0xprevious"}
	otherBurn := notice("other-burn", 50000, f.clock.now.Add(10*time.Second))
	otherBurn.Tags = map[string]string{"Eth-Tx-Hash": "0xprevious"}
	untaggedEarly := notice("untagged-early", 50000, f.clock.now.Add(-10*time.Minute))
	untaggedEarly.Tags = nil
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).
		Return([]clients.CreditNotice{stale, otherBurn, untaggedEarly}, nil).Once()

	// within clock skew of the burn and without a source tag
	untagged := notice("untagged", 50000, f.clock.now.Add(-time.Minute))
	untagged.Tags = nil
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).
		Return([]clients.CreditNotice{stale, otherBurn, untagged}, nil).Once()

	wait, err := f.bridge.WaitForCredit(context.Background(), burn, WaitOptions{
		MaxWait:      10 * time.Minute,
		PollInterval: 30 * time.Second,
		Tolerance:    decimal.RequireFromString("0.001"),
		MaxAge:       time.Hour,
	})
	require.NoError(t, err)
	require.True(t, wait.Observed)
	require.Equal(t, 2, wait.Attempts)
	require.Equal(t, "untagged", wait.Credit.ConfirmationID)
	require.Empty(t, wait.Credit.SourceTxID)
	f.index.AssertExpectations(t)
}

func TestBridge_WaitForCreditMatchesSourceTxCaseInsensitive(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	burn := f.burnOf("50000")
	burn.TxID = "0xABCdef"

	n := notice("ours", 50000, f.clock.now.Add(time.Minute))
	n.Tags = map[string]string{"X-Source-Tx": "0xabcDEF"}
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return([]clients.CreditNotice{n}, nil).Once()

	wait, err := f.bridge.WaitForCredit(context.Background(), burn, WaitOptions{
		MaxWait: time.Minute, PollInterval: 10 * time.Second, Tolerance: decimal.Zero,
	})
	require.NoError(t, err)
	require.True(t, wait.Observed)
	require.Equal(t, "0xabcDEF", wait.Credit.SourceTxID)
}

func TestBridge_WaitForCreditTimeout(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return([]clients.CreditNotice{}, nil)

	opts := WaitOptions{
		MaxWait:      100 * time.Second,
		PollInterval: 30 * time.Second,
		Tolerance:    decimal.RequireFromString("0.001"),
	}
	wait, err := f.bridge.WaitForCredit(context.Background(), f.burnOf("50000"), opts)
	require.NoError(t, err)
	require.False(t, wait.Observed)
	require.Nil(t, wait.Credit)
	require.GreaterOrEqual(t, wait.Waited, opts.MaxWait)
	require.Less(t, wait.Waited, opts.MaxWait+opts.PollInterval)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second, 10 * time.Second}, f.clock.slept)
}

func TestBridge_WaitForCreditCancelled(t *testing.T) {
	f := newFixture(t, ethARIO.ID)
	f.bridge.sleep = sleepContext
	f.index.On("CreditNotices", mock.Anything, arioProcess, destination).Return([]clients.CreditNotice{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wait, err := f.bridge.WaitForCredit(ctx, f.burnOf("1"), WaitOptions{
		MaxWait: time.Minute, PollInterval: time.Second,
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, wait.Observed)
}

func TestWithinTolerance(t *testing.T) {
	want := domain.MustUnits(aoARIO, "50000")
	tol := decimal.RequireFromString("0.001")

	require.True(t, WithinTolerance(want, domain.MustUnits(aoARIO, "50000"), tol))
	require.True(t, WithinTolerance(want, domain.MustUnits(aoARIO, "49950"), tol))
	require.True(t, WithinTolerance(want, domain.MustUnits(aoARIO, "50050"), tol))
	require.False(t, WithinTolerance(want, domain.MustUnits(aoARIO, "49949.999999"), tol))
	require.False(t, WithinTolerance(want, domain.MustUnits(aoARIO, "49999"), decimal.Zero))
}
