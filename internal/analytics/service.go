package analytics

import (
	"context"
	"time"

	"ms-fulfillment/internal/models"

	"github.com/uptrace/bun"
)

const defaultTopVariantLimit = 10

// Service aggregates order and payment data into reporting views.
type Service struct {
	db *DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: NewDB(db)}
}

// SalesSummary is the dashboard view over a reporting window.
type SalesSummary struct {
	Since           time.Time         `json:"since"`
	StatusCounts    []StatusCountData `json:"status_counts"`
	DailySales      []DailySalesData  `json:"daily_sales"`
	TotalRevenue    float64           `json:"total_revenue"`
	TotalOrders     int               `json:"total_orders"`
	AbandonmentRate float64           `json:"abandonment_rate"`
}

func (s *Service) GetSalesSummary(ctx context.Context, since time.Time) (*SalesSummary, error) {
	statusCounts, err := s.db.GetOrderCountsByStatus(ctx, since)
	if err != nil {
		return nil, err
	}
	dailySales, err := s.db.GetDailySales(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &SalesSummary{
		Since:        since,
		StatusCounts: statusCounts,
		DailySales:   dailySales,
	}
	var cancelled int
	for _, sc := range statusCounts {
		summary.TotalOrders += sc.Count
		if sc.Status == models.OrderCancelled {
			cancelled = sc.Count
		}
	}
	for _, day := range dailySales {
		summary.TotalRevenue += day.DailyRevenue
	}
	if summary.TotalOrders > 0 {
		summary.AbandonmentRate = float64(cancelled) / float64(summary.TotalOrders)
	}
	return summary, nil
}

func (s *Service) GetVoucherUsage(ctx context.Context, since time.Time) ([]VoucherUsageData, error) {
	return s.db.GetVoucherUsage(ctx, since)
}

func (s *Service) GetTopVariants(ctx context.Context, since time.Time, limit int) ([]TopVariantData, error) {
	if limit <= 0 {
		limit = defaultTopVariantLimit
	}
	return s.db.GetTopVariants(ctx, since, limit)
}
