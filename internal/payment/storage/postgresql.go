package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"

	"github.com/lib/pq"
)

type PostgreSQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

const paymentColumns = "payment_id, order_id, method, status, amount, currency, intent_id, capture_id, note, created_at, paid_at"

// NewPostgreSQLStoreWithDB wraps an existing connection, so the
// payment service can share the pool the order tables use.
func NewPostgreSQLStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgreSQLStore, error) {
	store := &PostgreSQLStore{db: db, log: log}
	if err := store.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize payment tables: %w", err)
	}
	return store, nil
}

func (s *PostgreSQLStore) initTables() error {
	s.log.Debug("DATABASE", "Creating payments table if not exists")

	query := `
    CREATE TABLE IF NOT EXISTS payments (
        payment_id VARCHAR(64) PRIMARY KEY,
        order_id VARCHAR(36) NOT NULL,
        method VARCHAR(16) NOT NULL,
        status VARCHAR(16) NOT NULL,
        amount DECIMAL(10,2) NOT NULL,
        currency VARCHAR(8) NOT NULL,
        intent_id VARCHAR(128),
        capture_id VARCHAR(128),
        note TEXT,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        paid_at TIMESTAMP
    );
    `
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create payments table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id);",
		"CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.db.Exec(indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PostgreSQLStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	query := `
    INSERT INTO payments (` + paymentColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
    `
	_, err := s.db.ExecContext(ctx, query,
		payment.PaymentID, payment.OrderID, payment.Method, payment.Status,
		payment.Amount, payment.Currency, payment.IntentID, payment.CaptureID,
		payment.Note, payment.CreatedAt, payment.PaidAt,
	)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %v", payment.PaymentID, err))
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE payment_id = $1"
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByOrderID returns the order's active payment: the newest row.
// RetryPayment cancels the old row before inserting the new one, so
// the newest is always the live one.
func (s *PostgreSQLStore) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	query := "SELECT " + paymentColumns + ` FROM payments
    WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, orderID))
}

func (s *PostgreSQLStore) SetIntent(ctx context.Context, paymentID, intentID string) error {
	query := `UPDATE payments SET intent_id = $1 WHERE payment_id = $2 AND status = $3`
	res, err := s.db.ExecContext(ctx, query, intentID, paymentID, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("failed to set intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("payment %s is not pending, intent not recorded", paymentID)
	}
	return nil
}

// MarkPaid finalizes a capture. The non-terminal guard means a second
// call (duplicate webhook, concurrent sweeper) affects zero rows.
func (s *PostgreSQLStore) MarkPaid(ctx context.Context, paymentID, captureID string, paidAt time.Time, note string) (bool, error) {
	query := `
    UPDATE payments SET status = $1, capture_id = $2, paid_at = $3, note = note || '; ' || $4
    WHERE payment_id = $5 AND status = ANY($6)
    `
	res, err := s.db.ExecContext(ctx, query,
		models.PaymentPaid, captureID, paidAt, note, paymentID, nonTerminalArray())
	if err != nil {
		return false, fmt.Errorf("failed to mark payment paid: %w", err)
	}
	return oneRow(res)
}

func (s *PostgreSQLStore) MarkFailed(ctx context.Context, paymentID, note string) (bool, error) {
	query := `
    UPDATE payments SET status = $1, note = note || '; ' || $2
    WHERE payment_id = $3 AND status = ANY($4)
    `
	res, err := s.db.ExecContext(ctx, query, models.PaymentFailed, note, paymentID, nonTerminalArray())
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return oneRow(res)
}

// CancelNonTerminal cancels whatever live payment the order has.
// Returns false when there was nothing to cancel, which callers treat
// as a no-op, not an error.
func (s *PostgreSQLStore) CancelNonTerminal(ctx context.Context, orderID, note string) (bool, error) {
	query := `
    UPDATE payments SET status = $1, note = note || '; ' || $2
    WHERE order_id = $3 AND status = ANY($4)
    `
	res, err := s.db.ExecContext(ctx, query, models.PaymentCancelled, note, orderID, nonTerminalArray())
	if err != nil {
		return false, fmt.Errorf("failed to cancel payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *PostgreSQLStore) scanOne(row *sql.Row) (*models.Payment, error) {
	payment := &models.Payment{}
	var intentID, captureID, note sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&payment.PaymentID, &payment.OrderID, &payment.Method, &payment.Status,
		&payment.Amount, &payment.Currency, &intentID, &captureID, &note,
		&payment.CreatedAt, &paidAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	payment.IntentID = intentID.String
	payment.CaptureID = captureID.String
	payment.Note = note.String
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}
	return payment, nil
}

func nonTerminalArray() interface{} {
	return pq.Array(models.NonTerminalStatuses())
}

func oneRow(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
