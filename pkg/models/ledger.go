package models

import "time"

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TypeCharge      TransactionType = "charge"
	TypeWithdraw    TransactionType = "withdraw"
	TypeAdminAdjust TransactionType = "admin_adjust"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusCompleted TransactionStatus = "completed"
)

// User holds the running balance for one account. Balance is in the
// smallest currency unit and never negative.
type User struct {
	UserID    int64     `json:"user_id"`
	Balance   int       `json:"balance"`
	IsBanned  bool      `json:"is_banned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one entry in the append-only transaction log.
type Transaction struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        int               `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	ExternalRef   string            `json:"external_ref"`
	AccountNumber string            `json:"account_number"`
	Status        TransactionStatus `json:"status"`
	VerifiedAuto  bool              `json:"verified_auto"`
	Notes         string            `json:"notes"`
	OrderNumber   int               `json:"order_number"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PaymentCode is a capacity-limited receiving identifier shared across
// deposits until its daily capacity is exhausted.
type PaymentCode struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	CurrentAmount int        `json:"current_amount"`
	MaxAmount     int        `json:"max_amount"`
	IsActive      bool       `json:"is_active"`
	DailyReset    bool       `json:"daily_reset"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CodeStats summarizes the payment code pool for operators.
type CodeStats struct {
	TotalCodes    int `json:"total_codes"`
	ActiveCodes   int `json:"active_codes"`
	FullCodes     int `json:"full_codes"`
	TotalUsed     int `json:"total_used"`
	TotalCapacity int `json:"total_capacity"`
}

// DailyStats aggregates approved volumes and transaction counts for one day.
type DailyStats struct {
	Date           string         `json:"date"`
	ChargeTotals   map[string]int `json:"charge"`
	WithdrawTotals map[string]int `json:"withdraw"`
	Counts         map[string]int `json:"counts"`
}

// CreateReceipt is returned by transaction creation: the new row id, its
// human-facing per-period order number, and the creation time.
type CreateReceipt struct {
	ID          int64     `json:"id"`
	OrderNumber int       `json:"order_number"`
	CreatedAt   time.Time `json:"created_at"`
}
