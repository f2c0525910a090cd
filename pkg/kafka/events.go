package kafka

import "time"

// Ledger event types published to the reconciliation events topic.
const (
	EventTransactionCreated   = "transaction_created"
	EventTransactionApproved  = "transaction_approved"
	EventTransactionRejected  = "transaction_rejected"
	EventTransactionDelivered = "transaction_delivered"
	EventBalanceAdjusted      = "balance_adjusted"
	EventCodeCapacityChanged  = "code_capacity_changed"
)

// LedgerEvent is the JSON payload for every reconciliation event. Consumers
// (reporting, fraud review) treat it as an at-least-once stream keyed by
// transaction id.
type LedgerEvent struct {
	EventType     string    `json:"event_type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	Amount        int       `json:"amount,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Status        string    `json:"status,omitempty"`
	VerifiedAuto  bool      `json:"verified_auto,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
