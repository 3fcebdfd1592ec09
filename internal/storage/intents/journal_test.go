package intents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/topup/internal/domain"
)

var usdc = domain.Token{Symbol: "USDC", Ledger: domain.LedgerEthereum, ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}

func TestJournal_Lifecycle(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	ctx := domain.WithCycleID(context.Background(), "cycle-1")

	swapID, err := j.Begin(ctx, domain.StageSwap, domain.MustUnits(usdc, "12.5"), "0xrouter")
	require.NoError(t, err)
	burnID, err := j.Begin(ctx, domain.StageBurn, domain.MustUnits(usdc, "3"), "0xbridge")
	require.NoError(t, err)

	require.Len(t, j.Pending(), 2)

	require.NoError(t, j.Complete(swapID, "0xswap"))
	require.NoError(t, j.Fail(burnID, "0xburn", errors.New("reverted")))
	require.Empty(t, j.Pending())

	swap, ok := j.Get(swapID)
	require.True(t, ok)
	require.Equal(t, StatusDone, swap.Status)
	require.Equal(t, "0xswap", swap.TxID)
	require.Equal(t, "cycle-1", swap.CycleID)
	require.Equal(t, "12.5", swap.Amount)

	burn, ok := j.Get(burnID)
	require.True(t, ok)
	require.Equal(t, StatusFailed, burn.Status)
	require.Equal(t, "reverted", burn.Error)

	require.Error(t, j.Complete("missing", ""))
}

func TestJournal_PendingSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	doneID, err := j.Begin(context.Background(), domain.StageApprove, domain.MustUnits(usdc, "1"), "0xtoken")
	require.NoError(t, err)
	require.NoError(t, j.Complete(doneID, "0xapprove"))

	pendingID, err := j.Begin(context.Background(), domain.StageTransfer, domain.MustUnits(usdc, "2"), "wallet")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	pending := reopened.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, pendingID, pending[0].ID)
	require.Equal(t, domain.StageTransfer, pending[0].Stage)

	done, ok := reopened.Get(doneID)
	require.True(t, ok)
	require.Equal(t, StatusDone, done.Status)
}
