package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

// StaleOrderFinder lists pending orders past the abandonment cutoff
// that have never been paid.
type StaleOrderFinder interface {
	FindStalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

type OrderTransitioner interface {
	Transition(ctx context.Context, orderID string, event models.OrderEvent) error
}

// Sweeper cancels pending orders that sat unpaid past the configured
// threshold, releasing their reservations. It runs in the background
// of the order service and every cancellation goes through the same
// state machine the API uses.
type Sweeper struct {
	DB     StaleOrderFinder
	Orders OrderTransitioner
	Cfg    config.SweeperConfig
	Logger *logger.Logger
}

func NewSweeper(db StaleOrderFinder, orders OrderTransitioner, cfg config.SweeperConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{DB: db, Orders: orders, Cfg: cfg, Logger: log}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Logger.Info("SWEEPER", fmt.Sprintf("Abandonment sweeper started, threshold %s, interval %s", s.Cfg.Threshold, s.Cfg.Interval))

	ticker := time.NewTicker(s.Cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("SWEEPER", "Abandonment sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.Logger.Error("SWEEPER", fmt.Sprintf("Sweep failed: %v", err))
			}
		}
	}
}

// SweepOnce cancels every stale pending order it can and returns how
// many were cancelled. An order that raced into another state between
// the listing and the cancel is skipped, not an error.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.Cfg.Threshold)
	stale, err := s.DB.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	cancelled := 0
	for _, order := range stale {
		err := s.Orders.Transition(ctx, order.OrderID, models.EventAbandoned)
		if err != nil {
			var illegal *errs.IllegalTransitionError
			if errors.As(err, &illegal) {
				// Paid or cancelled since we listed it.
				s.Logger.Debug("SWEEPER", fmt.Sprintf("Skipping order %s: %v", order.OrderID, err))
				continue
			}
			s.Logger.Error("SWEEPER", fmt.Sprintf("Failed to abandon order %s: %v", order.OrderID, err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		s.Logger.Info("SWEEPER", fmt.Sprintf("Cancelled %d abandoned order(s)", cancelled))
	}
	return cancelled, nil
}
