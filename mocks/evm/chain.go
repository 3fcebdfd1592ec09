package evm

import (
	"context"
	"math/big"

	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/topup/internal/domain"
)

// Chain is a mock of the EVM operating wallet.
type Chain struct {
	mock.Mock
}

func (_m *Chain) Address() string {
	ret := _m.Called()
	return ret.String(0)
}

func (_m *Chain) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	ret := _m.Called(ctx, owner)
	v, _ := ret.Get(0).(*big.Int)
	return v, ret.Error(1)
}

func (_m *Chain) ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error) {
	ret := _m.Called(ctx, token, owner)
	v, _ := ret.Get(0).(*big.Int)
	return v, ret.Error(1)
}

func (_m *Chain) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	ret := _m.Called(ctx, token, owner, spender)
	v, _ := ret.Get(0).(*big.Int)
	return v, ret.Error(1)
}

func (_m *Chain) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	ret := _m.Called(ctx, token, spender, amount)
	return ret.String(0), ret.Error(1)
}

func (_m *Chain) SendTx(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	ret := _m.Called(ctx, to, value, data)
	return ret.String(0), ret.Error(1)
}

func (_m *Chain) Burn(ctx context.Context, bridge string, amount *big.Int, destination string) (string, error) {
	ret := _m.Called(ctx, bridge, amount, destination)
	return ret.String(0), ret.Error(1)
}

func (_m *Chain) TransferERC20(ctx context.Context, token, to string, amount *big.Int) (string, error) {
	ret := _m.Called(ctx, token, to, amount)
	return ret.String(0), ret.Error(1)
}

func (_m *Chain) WaitConfirmed(ctx context.Context, txID string) (domain.Receipt, error) {
	ret := _m.Called(ctx, txID)
	v, _ := ret.Get(0).(domain.Receipt)
	return v, ret.Error(1)
}

// BigInt matches a *big.Int argument equal to want.
func BigInt(want int64) interface{} {
	return mock.MatchedBy(func(v *big.Int) bool {
		return v != nil && v.Cmp(big.NewInt(want)) == 0
	})
}

// NewChain creates a new instance of Chain. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewChain(t interface {
	mock.TestingT
	Cleanup(func())
}) *Chain {
	m := &Chain{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
