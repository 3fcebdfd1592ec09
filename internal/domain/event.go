package domain

import "fmt"

// EventKind enumerates operator notifications.
type EventKind string

const (
	EventCycleStart         EventKind = "cycle_start"
	EventLowGas             EventKind = "low_gas"
	EventInsufficientFunds  EventKind = "insufficient_funds"
	EventPriceImpactAbort   EventKind = "price_impact_abort"
	EventTopUpSuccess       EventKind = "topup_success"
	EventBridgeUnverified   EventKind = "bridge_unverified"
	EventSwapUnverified     EventKind = "swap_unverified"
	EventFundsStranded      EventKind = "funds_stranded"
	EventCreditNotSpendable EventKind = "credit_not_spendable"
	EventPendingIntents     EventKind = "pending_intents"
	EventFailure            EventKind = "failure"
)

// Severity of an event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Field is an ordered key/value pair attached to an event.
type Field struct {
	Key   string
	Value string
}

// Event is an operator-facing notification.
type Event struct {
	Kind     EventKind
	Severity Severity
	Title    string
	Message  string
	// Action what the operator has to do, empty if nothing.
	Action string
	Fields []Field
}

// With returns a copy of the event with an extra field.
func (e Event) With(key, value string) Event {
	fields := make([]Field, 0, len(e.Fields)+1)
	fields = append(fields, e.Fields...)
	e.Fields = append(fields, Field{Key: key, Value: value})
	return e
}

// String returns a human-readable string representation.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Title, e.Message)
}
