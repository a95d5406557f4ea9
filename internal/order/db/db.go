package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// CreateOrder persists the order, its line-item snapshot and the
// initial payment row in one transaction. Either everything lands or
// nothing does.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderLineItem, payment *models.Payment) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.NewInsert().Model(payment).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items").
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkProcessing flips a pending order to processing and stamps the
// paid timestamp. Returns false when the order was not pending, which
// the caller reports as an illegal transition.
func (d *DB) MarkProcessing(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderProcessing).
		Set("paid = ?", true).
		Set("paid_at = ?", paidAt).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

// MarkCancelled flips a non-terminal order to cancelled. The status
// guard makes the first writer win; a late duplicate is rejected with
// zero rows, never merged.
func (d *DB) MarkCancelled(ctx context.Context, orderID string, cancelledAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderCancelled).
		Set("cancelled_at = ?", cancelledAt).
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.OrderPending, models.OrderProcessing})).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (d *DB) MarkCompleted(ctx context.Context, orderID string, completedAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderCompleted).
		Set("completed_at = ?", completedAt).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderProcessing).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

// FindStalePending returns pending orders created before the cutoff
// whose payment never reached paid. The sweeper feeds these through
// the regular transition path.
func (d *DB) FindStalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("status = ?", models.OrderPending).
		Where("created_at < ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM payments p WHERE p.order_id = \"order\".order_id AND p.status = ?)", models.PaymentPaid).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func oneRow(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
