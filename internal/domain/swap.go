package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SwapStatus is the terminal state of a swap attempt.
type SwapStatus int

const (
	// SwapAborted nothing was submitted.
	SwapAborted SwapStatus = iota
	// SwapSimulated dry run, nothing was submitted.
	SwapSimulated
	// SwapExecuted trade confirmed and the output was observed.
	SwapExecuted
	// SwapUnverified trade confirmed but the output balance could not be observed.
	SwapUnverified
)

// AbortReasonPriceImpact is reported when the quote fails the price impact gate.
const AbortReasonPriceImpact = "price impact exceeded"

// String returns the string representation of the status.
func (s SwapStatus) String() string {
	switch s {
	case SwapAborted:
		return "aborted"
	case SwapSimulated:
		return "simulated"
	case SwapExecuted:
		return "executed"
	case SwapUnverified:
		return "unverified"
	default:
		return "unknown"
	}
}

// SwapResult describes the outcome of a swap attempt.
type SwapResult struct {
	Status         SwapStatus
	Quote          Quote
	ExpectedOutput TokenAmount
	// ActualOutput observed balance delta of the output token, or the quoted output
	// for a simulated swap. Zero for aborted and unverified swaps.
	ActualOutput TokenAmount
	TxIDs        []string
	// Fee native gas token spent, in human units.
	Fee         decimal.Decimal
	AbortReason string
}

// Success reports whether the swap produced usable output.
func (r SwapResult) Success() bool {
	return r.Status == SwapExecuted || r.Status == SwapSimulated
}

// FundsMoved reports whether anything was committed on-chain.
func (r SwapResult) FundsMoved() bool {
	return r.Status == SwapExecuted || r.Status == SwapUnverified
}

// String returns a human-readable string representation.
func (r SwapResult) String() string {
	return fmt.Sprintf("swap %s: expected %s actual %s", r.Status, r.ExpectedOutput.String(), r.ActualOutput.String())
}

// TransferResult is the outcome of a same-ledger transfer.
type TransferResult struct {
	ID        string
	Amount    TokenAmount
	From      string
	Recipient string
	Fee       decimal.Decimal
	Simulated bool
}

// Receipt is a confirmed EVM transaction.
type Receipt struct {
	TxID    string
	Success bool
	Block   uint64
	// Fee native gas token spent, in human units.
	Fee decimal.Decimal
}
