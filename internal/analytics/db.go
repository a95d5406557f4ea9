package analytics

import (
	"context"
	"time"

	"ms-fulfillment/internal/models"

	"github.com/uptrace/bun"
)

// DB handles analytics database operations. All queries are read-only
// aggregations over the order and payment tables.
type DB struct {
	bun *bun.DB
}

func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// StatusCountData is a per-status order count.
type StatusCountData struct {
	Status models.OrderStatus `bun:"status" json:"status"`
	Count  int                `bun:"status_count" json:"count"`
}

func (db *DB) GetOrderCountsByStatus(ctx context.Context, since time.Time) ([]StatusCountData, error) {
	var counts []StatusCountData
	err := db.bun.NewSelect().
		ColumnExpr("orders.status").
		ColumnExpr("COUNT(*) AS status_count").
		TableExpr("orders").
		Where("orders.created_at >= ?", since).
		GroupExpr("orders.status").
		OrderExpr("orders.status").
		Scan(ctx, &counts)

	return counts, err
}

// DailySalesData represents raw daily sales metrics from the database.
// Only completed and processing orders count as sales.
type DailySalesData struct {
	SalesDate    time.Time `bun:"sales_date" json:"sales_date"`
	DailyRevenue float64   `bun:"daily_revenue" json:"daily_revenue"`
	DailyOrders  int       `bun:"daily_orders" json:"daily_orders"`
	DailyUnits   int       `bun:"daily_units" json:"daily_units"`
}

func (db *DB) GetDailySales(ctx context.Context, since time.Time) ([]DailySalesData, error) {
	var dailySales []DailySalesData
	err := db.bun.NewRaw(`
		SELECT
			DATE(o.created_at) AS sales_date,
			SUM(o.total) AS daily_revenue,
			COUNT(DISTINCT o.order_id) AS daily_orders,
			SUM(li.quantity) AS daily_units
		FROM
			orders o
		JOIN
			order_line_items li ON li.order_id = o.order_id
		WHERE
			o.status IN (?, ?) AND o.created_at >= ?
		GROUP BY
			DATE(o.created_at)
		ORDER BY
			DATE(o.created_at)
	`, models.OrderProcessing, models.OrderCompleted, since).Scan(ctx, &dailySales)

	return dailySales, err
}

// VoucherUsageData represents per-voucher discount totals.
type VoucherUsageData struct {
	VoucherID      string  `bun:"voucher_id" json:"voucher_id"`
	UsageCount     int     `bun:"usage_count" json:"usage_count"`
	DiscountAmount float64 `bun:"discount_amount_sum" json:"discount_amount"`
}

func (db *DB) GetVoucherUsage(ctx context.Context, since time.Time) ([]VoucherUsageData, error) {
	var usage []VoucherUsageData
	err := db.bun.NewSelect().
		ColumnExpr("orders.voucher_id").
		ColumnExpr("COUNT(*) AS usage_count").
		ColumnExpr("SUM(orders.discount) AS discount_amount_sum").
		TableExpr("orders").
		Where("orders.voucher_id IS NOT NULL AND orders.voucher_id != '' AND orders.created_at >= ?", since).
		GroupExpr("orders.voucher_id").
		OrderExpr("orders.voucher_id").
		Scan(ctx, &usage)

	return usage, err
}

// GetTopVariants returns the best-selling variants by unit count over
// completed and processing orders.
type TopVariantData struct {
	VariantID   string  `bun:"variant_id" json:"variant_id"`
	ProductName string  `bun:"product_name" json:"product_name"`
	UnitsSold   int     `bun:"units_sold" json:"units_sold"`
	Revenue     float64 `bun:"revenue" json:"revenue"`
}

func (db *DB) GetTopVariants(ctx context.Context, since time.Time, limit int) ([]TopVariantData, error) {
	var top []TopVariantData
	err := db.bun.NewRaw(`
		SELECT
			li.variant_id,
			li.product_name,
			SUM(li.quantity) AS units_sold,
			SUM(li.quantity * li.unit_price) AS revenue
		FROM
			order_line_items li
		JOIN
			orders o ON o.order_id = li.order_id
		WHERE
			o.status IN (?, ?) AND o.created_at >= ?
		GROUP BY
			li.variant_id, li.product_name
		ORDER BY
			units_sold DESC
		LIMIT ?
	`, models.OrderProcessing, models.OrderCompleted, since, limit).Scan(ctx, &top)

	return top, err
}
