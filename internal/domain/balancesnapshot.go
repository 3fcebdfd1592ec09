package domain

import "time"

// BalanceSnapshot is the balance of one owner for one token at query time.
// Snapshots are values; a fresh query always produces a new one.
type BalanceSnapshot struct {
	Owner     string
	Amount    TokenAmount
	QueriedAt time.Time
}

// NewBalanceSnapshot creates a new BalanceSnapshot.
func NewBalanceSnapshot(owner string, amount TokenAmount, queriedAt time.Time) BalanceSnapshot {
	return BalanceSnapshot{
		Owner:     owner,
		Amount:    amount,
		QueriedAt: queriedAt,
	}
}

// Token returns the token of the snapshot.
func (s BalanceSnapshot) Token() Token {
	return s.Amount.Token
}
