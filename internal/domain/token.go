// Package domain defines core data structures used throughout the top-up service.
package domain

import (
	"fmt"
	"strings"
)

// MaxDecimals is the highest token precision supported.
const MaxDecimals = 18

// Ledger identifies the chain or process network a token lives on.
type Ledger string

const (
	// LedgerEthereum is the EVM source chain.
	LedgerEthereum Ledger = "ethereum"
	// LedgerAO is the AO process network the target wallet lives on.
	LedgerAO Ledger = "ao"
)

// String returns the ledger tag.
func (l Ledger) String() string {
	return string(l)
}

// Token describes a fungible asset on a specific ledger.
type Token struct {
	// Symbol human-readable ticker, e.g. USDC.
	Symbol string
	// Ledger the chain or network holding balances of this token.
	Ledger Ledger
	// ID contract address on EVM or process id on AO. Empty for the native gas token.
	ID string
	// Decimals fixed precision of the smallest unit.
	Decimals uint8
}

// NewToken validates and builds a token.
func NewToken(symbol string, ledger Ledger, id string, decimals uint8) (Token, error) {
	if strings.TrimSpace(symbol) == "" {
		return Token{}, fmt.Errorf("token symbol is required")
	}
	if decimals > MaxDecimals {
		return Token{}, fmt.Errorf("token %s decimals must be in [0,%d], got %d", symbol, MaxDecimals, decimals)
	}
	switch ledger {
	case LedgerEthereum, LedgerAO:
	default:
		return Token{}, fmt.Errorf("unknown ledger %q for token %s", ledger, symbol)
	}

	return Token{Symbol: symbol, Ledger: ledger, ID: id, Decimals: decimals}, nil
}

// IsNative reports whether the token is the ledger's gas token.
func (t Token) IsNative() bool {
	return t.ID == ""
}

// SameLedger reports whether both tokens live on the same ledger.
func (t Token) SameLedger(other Token) bool {
	return t.Ledger == other.Ledger
}

// String returns the string representation.
func (t Token) String() string {
	return fmt.Sprintf("%s@%s", t.Symbol, t.Ledger)
}
