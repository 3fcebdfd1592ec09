package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind is the kind of a ledger line.
type RecordKind string

const (
	RecordSourceSwap       RecordKind = "SOURCE_SWAP"
	RecordBridgeBurn       RecordKind = "BRIDGE_BURN"
	RecordLedgerTransfer   RecordKind = "LEDGER_TRANSFER"
	RecordRecoveryTransfer RecordKind = "RECOVERY_TRANSFER"
)

// TransactionRecord is one append-only ledger line. It is for human
// reconciliation only and is never read back by the service.
type TransactionRecord struct {
	Timestamp   time.Time
	Kind        RecordKind
	Chain       Ledger
	FromToken   string
	FromAmount  decimal.Decimal
	ToToken     string
	ToAmount    decimal.Decimal
	Rate        decimal.Decimal
	PriceImpact decimal.Decimal
	From        string
	To          string
	TxIDs       []string
	Fee         decimal.Decimal
	Note        string
}
