package models

import "github.com/uptrace/bun"

// VariantStock holds the two inventory counters for a product variant.
// All mutation goes through the inventory ledger, never direct edits.
type VariantStock struct {
	bun.BaseModel `bun:"table:variant_stocks"`

	VariantID string `bun:"variant_id,pk" json:"variant_id"`
	Available int    `bun:"available" json:"available"`
	Reserved  int    `bun:"reserved" json:"reserved"`
}

// CatalogVariant is the pricing snapshot returned by the catalog
// service. Used for pre-check validation only, not for reservation.
type CatalogVariant struct {
	VariantID      string  `json:"variant_id"`
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name"`
	SKU            string  `json:"sku"`
	Color          string  `json:"color,omitempty"`
	Size           string  `json:"size,omitempty"`
	UnitPrice      float64 `json:"unit_price"`
	AvailableStock int     `json:"available_stock"`
}
