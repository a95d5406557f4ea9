package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"

	"github.com/uptrace/bun"
)

// Ledger owns the per-variant available/reserved counters. Every
// mutation is a single conditional update inside one transaction, so
// two concurrent checkouts on the same variant can never both win the
// last unit. Commit and Release are keyed by the order's stock_state
// flag, which makes them idempotent and mutually exclusive.
type Ledger struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func NewLedger(db *bun.DB, log *logger.Logger) *Ledger {
	return &Ledger{Bun: db, Logger: log}
}

// Reserve deducts every requested quantity from available and parks it
// in reserved, all-or-nothing. A failed check on any variant rolls the
// whole call back and reports that variant's counts.
func (l *Ledger) Reserve(ctx context.Context, items []models.ItemQuantity) error {
	return l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, it := range items {
			if it.Quantity <= 0 {
				return errs.Validation("quantity", "must be positive for variant %s", it.VariantID)
			}

			res, err := tx.NewUpdate().
				Model((*models.VariantStock)(nil)).
				Set("available = available - ?", it.Quantity).
				Set("reserved = reserved + ?", it.Quantity).
				Where("variant_id = ?", it.VariantID).
				Where("available >= ?", it.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("reserve %s: %w", it.VariantID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				available, err := l.availableIn(ctx, tx, it.VariantID)
				if err != nil {
					return err
				}
				return &errs.InsufficientStockError{
					VariantID: it.VariantID,
					Available: available,
					Requested: it.Quantity,
				}
			}
		}
		return nil
	})
}

// Commit converts the order's reservation into a permanent decrement:
// reserved drops, available stays down. The stock_state flag flip is
// the idempotency guard — a second call finds no 'reserved' row and
// does nothing.
func (l *Ledger) Commit(ctx context.Context, orderID string, items []models.ItemQuantity) error {
	return l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		flipped, err := l.flipStockState(ctx, tx, orderID, models.StockReserved, models.StockCommitted)
		if err != nil {
			return err
		}
		if !flipped {
			l.Logger.Debug("INVENTORY", fmt.Sprintf("Commit skipped for order %s: stock not in reserved state", orderID))
			return nil
		}

		for _, it := range items {
			res, err := tx.NewUpdate().
				Model((*models.VariantStock)(nil)).
				Set("reserved = reserved - ?", it.Quantity).
				Where("variant_id = ?", it.VariantID).
				Where("reserved >= ?", it.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("commit %s: %w", it.VariantID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return fmt.Errorf("commit %s: reserved counter below order quantity %d", it.VariantID, it.Quantity)
			}
		}

		l.Logger.Info("INVENTORY", fmt.Sprintf("Stock committed for order %s (%d variants)", orderID, len(items)))
		return nil
	})
}

// Release returns the order's reserved quantities to available. Safe
// to call on an order whose stock was never reserved or was already
// committed: the flag flip finds nothing to do and the counters stay
// untouched.
func (l *Ledger) Release(ctx context.Context, orderID string, items []models.ItemQuantity) error {
	return l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		flipped, err := l.flipStockState(ctx, tx, orderID, models.StockReserved, models.StockReleased)
		if err != nil {
			return err
		}
		if !flipped {
			l.Logger.Debug("INVENTORY", fmt.Sprintf("Release skipped for order %s: stock not in reserved state", orderID))
			return nil
		}

		if err := l.returnQuantities(ctx, tx, items); err != nil {
			return err
		}

		l.Logger.Info("INVENTORY", fmt.Sprintf("Stock released for order %s (%d variants)", orderID, len(items)))
		return nil
	})
}

// ReleaseQuantities reverses raw counters without consulting any order
// flag. Used only to compensate a successful Reserve when persisting
// the order afterwards failed, before any flag row exists.
func (l *Ledger) ReleaseQuantities(ctx context.Context, items []models.ItemQuantity) error {
	return l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return l.returnQuantities(ctx, tx, items)
	})
}

// Available is the read path used for pre-check validation. It is not
// a reservation and guarantees nothing about a later Reserve.
func (l *Ledger) Available(ctx context.Context, variantID string) (int, error) {
	return l.availableIn(ctx, l.Bun, variantID)
}

func (l *Ledger) availableIn(ctx context.Context, db bun.IDB, variantID string) (int, error) {
	var available int
	err := db.NewSelect().
		Model((*models.VariantStock)(nil)).
		Column("available").
		Where("variant_id = ?", variantID).
		Scan(ctx, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.Validation("variant_id", "unknown variant %s", variantID)
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (l *Ledger) flipStockState(ctx context.Context, tx bun.Tx, orderID string, from, to models.StockState) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("stock_state = ?", to).
		Where("order_id = ?", orderID).
		Where("stock_state = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stock state %s -> %s for order %s: %w", from, to, orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (l *Ledger) returnQuantities(ctx context.Context, tx bun.Tx, items []models.ItemQuantity) error {
	for _, it := range items {
		res, err := tx.NewUpdate().
			Model((*models.VariantStock)(nil)).
			Set("available = available + ?", it.Quantity).
			Set("reserved = reserved - ?", it.Quantity).
			Where("variant_id = ?", it.VariantID).
			Where("reserved >= ?", it.Quantity).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("release %s: %w", it.VariantID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("release %s: reserved counter below order quantity %d", it.VariantID, it.Quantity)
		}
	}
	return nil
}
