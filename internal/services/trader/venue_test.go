package trader

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/topup/internal/clients"
	"github.com/vadiminshakov/topup/internal/domain"
)

func TestMinOutput(t *testing.T) {
	out := domain.MustUnits(ethARIO, "49800.349051")

	require.Equal(t, big.NewInt(49_302_345_560), MinOutput(out, decimal.NewFromInt(1)).Raw())
	require.Equal(t, out.Raw(), MinOutput(out, decimal.Zero).Raw())
	require.True(t, MinOutput(out, decimal.NewFromInt(100)).IsZero())
}

func TestUniswapV2Venue_Build(t *testing.T) {
	v := NewUniswapV2Venue(router, decimal.NewFromInt(1))
	v.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	q := domain.Quote{Input: domain.MustUnits(usdc, "1000"), ExpectedOutput: domain.MustUnits(ethARIO, "49800")}
	call, err := v.Build(q, wallet)
	require.NoError(t, err)
	require.Equal(t, router, call.To)
	require.Zero(t, call.Value.Sign())

	method, err := clients.UniswapRouterABI.MethodById(call.Data[:4])
	require.NoError(t, err)
	require.Equal(t, "swapExactTokensForTokens", method.Name)

	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), args[0])
	require.Equal(t, big.NewInt(49_302_000_000), args[1])
	require.Equal(t, []common.Address{common.HexToAddress(usdc.ID), common.HexToAddress(ethARIO.ID)}, args[2])
	require.Equal(t, common.HexToAddress(wallet), args[3])
	require.Equal(t, big.NewInt(1_700_000_000+20*60), args[4])
}

func TestAggregatorVenue_Build(t *testing.T) {
	_, err := AggregatorVenue{}.Build(domain.Quote{}, wallet)
	require.ErrorIs(t, err, domain.ErrQuoteUnavailable)

	q := domain.Quote{Route: &domain.Route{Target: "0xdef1", Calldata: []byte{0xaa}, Spender: "0xspender"}}
	call, err := AggregatorVenue{}.Build(q, wallet)
	require.NoError(t, err)
	require.Equal(t, "0xdef1", call.To)
	require.Equal(t, []byte{0xaa}, call.Data)
	require.Zero(t, call.Value.Sign())
	require.Equal(t, "0xspender", AggregatorVenue{}.Spender(q))
}
