package event

import "github.com/google/uuid"

// NotificationType names an outbound transition notification
type NotificationType string

const (
	NotificationInitialized      NotificationType = "protocol.initialized"
	NotificationInvoiceCreated   NotificationType = "invoice.created"
	NotificationInvoiceFunded    NotificationType = "invoice.funded"
	NotificationInvoiceRepaid    NotificationType = "invoice.repaid"
	NotificationInvoiceDefaulted NotificationType = "invoice.defaulted"
	NotificationInsuranceClaimed NotificationType = "insurance.claimed"
	NotificationPoolToppedUp     NotificationType = "pool.topped_up"
	NotificationTokensDeposited  NotificationType = "tokens.deposited"
)

// Notification is emitted after every successful transition and consumed
// asynchronously by the presentation layer.
type Notification struct {
	Type      NotificationType `json:"type"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
	InvoiceID uint64           `json:"invoice_id,omitempty"`
	State     string           `json:"state,omitempty"`
	Actor     uuid.UUID        `json:"actor"`

	Amount      int64 `json:"amount,omitempty"`
	Principal   int64 `json:"principal,omitempty"`
	Premium     int64 `json:"premium,omitempty"`
	Yield       int64 `json:"yield,omitempty"`
	LateFee     int64 `json:"late_fee,omitempty"`
	ProtocolFee int64 `json:"protocol_fee,omitempty"`
	Payout      int64 `json:"payout,omitempty"`
	RiskScore   int64 `json:"risk_score,omitempty"`
	CoverageBps int64 `json:"coverage_bps,omitempty"`
	PoolBalance int64 `json:"pool_balance"`
}

// Rejection reports a failed instruction back to an asynchronous submitter
type Rejection struct {
	IdempotencyKey  string    `json:"idempotency_key"`
	InstructionType string    `json:"instruction_type"`
	Caller          uuid.UUID `json:"caller"`
	Code            string    `json:"code"`
	Message         string    `json:"message"`
	Timestamp       int64     `json:"timestamp"`
}
