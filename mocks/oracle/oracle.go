package oracle

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/topup/internal/domain"
)

// Balances is a mock of a balance oracle reading single balances.
type Balances struct {
	mock.Mock
}

func (_m *Balances) GetBalance(ctx context.Context, owner string, token domain.Token) (domain.BalanceSnapshot, error) {
	ret := _m.Called(ctx, owner, token)
	v, _ := ret.Get(0).(domain.BalanceSnapshot)
	return v, ret.Error(1)
}

// Snapshot is a shorthand for a balance snapshot of units of token.
func Snapshot(owner string, token domain.Token, units string) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{Owner: owner, Amount: domain.MustUnits(token, units)}
}

// NewBalances creates a new instance of Balances. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewBalances(t interface {
	mock.TestingT
	Cleanup(func())
}) *Balances {
	m := &Balances{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
