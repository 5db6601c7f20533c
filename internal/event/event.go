// Package event defines the banking event model moved through the dispatcher
// and the factories that synthesize it.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Type classifies a banking event.
type Type string

// Supported event types.
const (
	TypeTransaction          Type = "TRANSACTION"
	TypeDeposit              Type = "DEPOSIT"
	TypeWithdrawal           Type = "WITHDRAWAL"
	TypeTransfer             Type = "TRANSFER"
	TypePayment              Type = "PAYMENT"
	TypeFee                  Type = "FEE"
	TypeRefund               Type = "REFUND"
	TypeReversal             Type = "REVERSAL"
	TypeAuthorization        Type = "AUTHORIZATION"
	TypeCapture              Type = "CAPTURE"
	TypeVoid                 Type = "VOID"
	TypeSettlement           Type = "SETTLEMENT"
	TypePartialRefund        Type = "PARTIAL_REFUND"
	TypePartialVoid          Type = "PARTIAL_VOID"
	TypePartialAuthorization Type = "PARTIAL_AUTHORIZATION"
	TypePartialCapture       Type = "PARTIAL_CAPTURE"
	TypePartialSettlement    Type = "PARTIAL_SETTLEMENT"
)

// EventTypes lists every Type in declaration order.
var EventTypes = []Type{
	TypeTransaction, TypeDeposit, TypeWithdrawal, TypeTransfer, TypePayment,
	TypeFee, TypeRefund, TypeReversal, TypeAuthorization, TypeCapture,
	TypeVoid, TypeSettlement, TypePartialRefund, TypePartialVoid,
	TypePartialAuthorization, TypePartialCapture, TypePartialSettlement,
}

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata carries optional descriptive attributes. A nil field is stored as NULL.
type Metadata struct {
	CountryCode *string `json:"country_code"`
	Channel     *string `json:"channel"`
	Currency    *string `json:"currency"`
	Status      *string `json:"status"`
}

// Event is a single banking event. TransactionID is the natural key used by
// sinks for idempotent inserts.
type Event struct {
	EventID       int64     `json:"event_id"`
	EventType     Type      `json:"event_type"`
	AccountID     string    `json:"account_id"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id"`
	Metadata      Metadata  `json:"metadata"`
}

// Validation errors returned by Event.Validate.
var (
	ErrNegativeID         = errors.New("event id must be >= 0")
	ErrUnknownType        = errors.New("unknown event type")
	ErrMissingAccount     = errors.New("account id is required")
	ErrNonPositiveAmount  = errors.New("amount must be > 0")
	ErrMissingTransaction = errors.New("transaction id is required")
)

// Validate checks the structural invariants of the event.
func (e Event) Validate() error {
	switch {
	case e.EventID < 0:
		return ErrNegativeID
	case !e.EventType.Valid():
		return fmt.Errorf("%w: %q", ErrUnknownType, e.EventType)
	case e.AccountID == "":
		return ErrMissingAccount
	case e.Amount <= 0:
		return ErrNonPositiveAmount
	case e.TransactionID == "":
		return ErrMissingTransaction
	}
	return nil
}

// UnixSeconds returns the timestamp as fractional seconds since the epoch.
func (e Event) UnixSeconds() float64 {
	return float64(e.Timestamp.UnixNano()) / float64(time.Second)
}

// TransactionIDFor formats the canonical transaction id for an event id.
func TransactionIDFor(eventID int64) string {
	return fmt.Sprintf("TXN%010d", eventID)
}

// AccountIDFor formats the canonical account id for an account number.
func AccountIDFor(n int) string {
	return fmt.Sprintf("ACC%06d", n)
}

// StringPtr returns a pointer to s; handy when building Metadata literals.
func StringPtr(s string) *string {
	return &s
}

// IDs returns the event ids of a batch in order.
func IDs(batch []Event) []int64 {
	out := make([]int64, len(batch))
	for i, ev := range batch {
		out[i] = ev.EventID
	}
	return out
}
