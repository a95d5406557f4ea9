package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"  // cash on delivery, nothing collected yet
	PaymentPending   PaymentStatus = "pending" // gateway flow opened, awaiting capture
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Terminal reports whether the status permits no further transition.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// NonTerminalStatuses is the guard set for conditional payment updates.
func NonTerminalStatuses() []string {
	return []string{string(PaymentUnpaid), string(PaymentPending)}
}

type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "cod"
	MethodGateway        PaymentMethod = "gateway"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	PaymentID string        `bun:"payment_id,pk" json:"payment_id"`
	OrderID   string        `bun:"order_id" json:"order_id"`
	Method    PaymentMethod `bun:"method" json:"method"`
	Status    PaymentStatus `bun:"status" json:"status"`
	Amount    float64       `bun:"amount" json:"amount"`
	Currency  string        `bun:"currency" json:"currency"`
	IntentID  string        `bun:"intent_id,nullzero" json:"intent_id,omitempty"`
	CaptureID string        `bun:"capture_id,nullzero" json:"capture_id,omitempty"`
	Note      string        `bun:"note,nullzero" json:"note,omitempty"` // audit trail of state transitions
	CreatedAt time.Time     `bun:"created_at" json:"created_at"`
	PaidAt    *time.Time    `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
}

// CaptureResult is what ConfirmCapture reports back to the caller.
// Replayed is set when an idempotent retry returned the previously
// recorded outcome without touching the gateway.
type CaptureResult struct {
	PaymentID string        `json:"payment_id"`
	OrderID   string        `json:"order_id"`
	Status    PaymentStatus `json:"status"`
	CaptureID string        `json:"capture_id,omitempty"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
	Replayed  bool          `json:"replayed"`
}

type GatewayPaymentResponse struct {
	PaymentID    string `json:"payment_id"`
	IntentID     string `json:"intent_id"`
	ApprovalLink string `json:"approval_link"`
	ApprovalQR   []byte `json:"approval_qr,omitempty"` // PNG, base64-encoded by the JSON layer
}
