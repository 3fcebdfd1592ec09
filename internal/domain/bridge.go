package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BurnResult is a confirmed burn on the source chain.
type BurnResult struct {
	TxID        string
	Amount      TokenAmount
	Destination string
	Fee         decimal.Decimal
	// SubmittedAt when the burn was sent. Credits older than this are not its credit.
	SubmittedAt time.Time
	Simulated   bool
}

// BridgeCredit is a credit observed on the destination ledger.
type BridgeCredit struct {
	Destination string
	Amount      TokenAmount
	// SourceTxID burn transaction, when the index exposes it.
	SourceTxID string
	// ConfirmationID message id on the destination ledger.
	ConfirmationID string
	ObservedAt     time.Time
}

// CreditWait is the outcome of waiting for a bridge credit.
// Observed=false means the credit was not seen in time, which is not the same as lost.
type CreditWait struct {
	Observed bool
	Credit   *BridgeCredit
	Waited   time.Duration
	Attempts int
}

// PollProgress is passed to observers once per poll attempt.
type PollProgress struct {
	Attempt int
	Elapsed time.Duration
	Err     error
}
