package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrQuoteUnavailable no route or liquidity for the requested swap.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrInsufficientFunds a wallet does not hold the amount required.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// QueryError is a failed read against a chain, process or API.
type QueryError struct {
	Op  string
	Err error
}

// NewQueryError wraps err as a QueryError.
func NewQueryError(op string, err error) *QueryError {
	return &QueryError{Op: op, Err: err}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Stage names a submission step.
type Stage string

const (
	StageApprove  Stage = "approve"
	StageSwap     Stage = "swap"
	StageBurn     Stage = "burn"
	StageTransfer Stage = "transfer"
)

// SubmissionError is a transaction or message that failed to submit or confirm.
type SubmissionError struct {
	Stage Stage
	TxID  string
	// Reverted the transaction was mined but failed.
	Reverted bool
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("%s submission %s failed: %v", e.Stage, e.TxID, e.Err)
	}
	return fmt.Sprintf("%s submission failed: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Stranded reports whether the failure leaves funds in an operating wallet
// that need the next cycle's recovery or an operator.
func (e *SubmissionError) Stranded() bool {
	return e.Stage == StageBurn
}

// IsQueryError reports whether err is or wraps a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// AsSubmissionError extracts a SubmissionError from err.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
