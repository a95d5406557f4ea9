package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// StockState tracks what happened to the inventory reservation of an
// order. It moves reserved -> committed on payment success or
// reserved -> released on cancellation, never both.
type StockState string

const (
	StockNone      StockState = "none"
	StockReserved  StockState = "reserved"
	StockCommitted StockState = "committed"
	StockReleased  StockState = "released"
)

type OrderEvent string

const (
	EventPaymentSucceeded OrderEvent = "payment_succeeded"
	EventPaymentFailed    OrderEvent = "payment_failed"
	EventAbandoned        OrderEvent = "abandoned"
	EventFulfilled        OrderEvent = "fulfilled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID     string      `bun:"order_id,pk" json:"order_id"`
	OrderNumber string      `bun:"order_number,unique" json:"order_number"`
	UserID      string      `bun:"user_id,nullzero" json:"user_id,omitempty"` // empty for guest orders
	VoucherID   string      `bun:"voucher_id,nullzero" json:"voucher_id,omitempty"`
	Subtotal    float64     `bun:"subtotal" json:"subtotal"`
	ShippingFee float64     `bun:"shipping_fee" json:"shipping_fee"`
	Discount    float64     `bun:"discount" json:"discount"`
	Total       float64     `bun:"total" json:"total"`
	Status      OrderStatus `bun:"status" json:"status"`
	StockState  StockState  `bun:"stock_state" json:"-"`
	Paid        bool        `bun:"paid" json:"paid"`

	RecipientName  string `bun:"recipient_name" json:"recipient_name"`
	RecipientPhone string `bun:"recipient_phone" json:"recipient_phone"`
	ShippingAddr   string `bun:"shipping_addr" json:"shipping_addr"`

	CreatedAt   time.Time  `bun:"created_at" json:"created_at"`
	PaidAt      *time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CompletedAt *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	CancelledAt *time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`

	Items []OrderLineItem `bun:"rel:has-many,join:order_id=order_id" json:"items,omitempty"`
}

// OrderLineItem is an immutable snapshot of the purchased variant taken
// at order time. It is never re-derived from the live catalog.
type OrderLineItem struct {
	bun.BaseModel `bun:"table:order_line_items"`

	LineID      string  `bun:"line_id,pk" json:"line_id"`
	OrderID     string  `bun:"order_id" json:"order_id"`
	VariantID   string  `bun:"variant_id" json:"variant_id"`
	ProductID   string  `bun:"product_id" json:"product_id"`
	ProductName string  `bun:"product_name" json:"product_name"`
	SKU         string  `bun:"sku" json:"sku"`
	Color       string  `bun:"color,nullzero" json:"color,omitempty"`
	Size        string  `bun:"size,nullzero" json:"size,omitempty"`
	UnitPrice   float64 `bun:"unit_price" json:"unit_price"`
	Quantity    int     `bun:"quantity" json:"quantity"`
}

// ItemQuantity is the (variant, qty) pair the Inventory Ledger operates on.
type ItemQuantity struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// LineQuantities projects an order's line items onto ledger pairs.
func LineQuantities(items []OrderLineItem) []ItemQuantity {
	out := make([]ItemQuantity, len(items))
	for i, it := range items {
		out[i] = ItemQuantity{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return out
}

type OrderItemRequest struct {
	VariantID string  `json:"variant_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderRequest struct {
	UserID         string             `json:"user_id,omitempty"`
	RecipientName  string             `json:"recipient_name"`
	RecipientPhone string             `json:"recipient_phone"`
	ShippingAddr   string             `json:"shipping_addr"`
	Items          []OrderItemRequest `json:"items"`
	ShippingFee    float64            `json:"shipping_fee"`
	Discount       float64            `json:"discount"`
	Total          float64            `json:"total"`
	VoucherID      string             `json:"voucher_id,omitempty"`
	PaymentMethod  PaymentMethod      `json:"payment_method"`
}

type OrderResponse struct {
	Order   *Order   `json:"order"`
	Payment *Payment `json:"payment,omitempty"`
}
