package models

// SMSWebhookRequest is the inbound notification payload posted by the SMS
// forwarding agent.
type SMSWebhookRequest struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// ParsedSMS echoes what the parser extracted, for operator debugging.
type ParsedSMS struct {
	Success         bool   `json:"success"`
	ExternalRef     string `json:"external_ref,omitempty"`
	Amount          int    `json:"amount"`
	FromNumber      string `json:"from_number,omitempty"`
	ReportedBalance *int   `json:"reported_balance,omitempty"`
	Pattern         string `json:"pattern,omitempty"`
}

// SMSWebhookResponse is the webhook reply contract.
type SMSWebhookResponse struct {
	Success       bool      `json:"success"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	Duplicate     bool      `json:"duplicate,omitempty"`
	ParsedData    ParsedSMS `json:"parsed_data"`
}

// ErrorResponse is the generic error reply shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitChargeRequest creates a pending deposit.
type SubmitChargeRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	Amount        int    `json:"amount" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	ExternalRef   string `json:"external_ref"`
}

// SubmitChargeResponse returns the pending transaction and, for the
// code-based method, the payment code the user should send to.
type SubmitChargeResponse struct {
	Receipt CreateReceipt `json:"receipt"`
	Code    string        `json:"code,omitempty"`
}

// SubmitWithdrawRequest creates a pending payout; the amount is reserved
// from the balance immediately.
type SubmitWithdrawRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	Amount        int    `json:"amount" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

// SubmitWithdrawResponse reports the reservation outcome.
type SubmitWithdrawResponse struct {
	Receipt    CreateReceipt `json:"receipt"`
	NewBalance int           `json:"new_balance"`
}

// AdjustBalanceRequest is the operator balance mutation payload.
type AdjustBalanceRequest struct {
	Amount int    `json:"amount"`
	Op     string `json:"op" binding:"required"` // add, subtract, set
}

// AdjustBalanceResponse reports the before/after balances.
type AdjustBalanceResponse struct {
	OldBalance int `json:"old_balance"`
	NewBalance int `json:"new_balance"`
}

// AddCodeRequest registers a new payment code.
type AddCodeRequest struct {
	Code       string `json:"code" binding:"required"`
	MaxAmount  int    `json:"max_amount"`
	DailyReset *bool  `json:"daily_reset"`
}

// TransactionListResponse wraps a transaction page.
type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
	Count        int           `json:"count"`
}

// CodeListResponse wraps the code pool with its stats.
type CodeListResponse struct {
	Codes []PaymentCode `json:"codes"`
	Stats CodeStats     `json:"stats"`
}
