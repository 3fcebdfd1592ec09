package pricer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/topup/internal/domain"
)

// Quoter is a mock of pricer.Quoter.
type Quoter struct {
	mock.Mock
}

func (_m *Quoter) Quote(ctx context.Context, input domain.TokenAmount, output domain.Token) (domain.Quote, error) {
	ret := _m.Called(ctx, input, output)
	v, _ := ret.Get(0).(domain.Quote)
	return v, ret.Error(1)
}

func (_m *Quoter) RequiredInput(ctx context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error) {
	ret := _m.Called(ctx, input, desired)
	v, _ := ret.Get(0).(domain.TokenAmount)
	return v, ret.Error(1)
}

// NewQuoter creates a new instance of Quoter. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewQuoter(t interface {
	mock.TestingT
	Cleanup(func())
}) *Quoter {
	m := &Quoter{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
