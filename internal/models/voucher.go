package models

// VoucherValidation is the voucher service's answer for a given
// voucher/subtotal pair.
type VoucherValidation struct {
	VoucherID      string  `json:"voucher_id"`
	Valid          bool    `json:"valid"`
	DiscountAmount float64 `json:"discount_amount"`
	Reason         string  `json:"reason,omitempty"`
}
