package storage

import (
	"context"
	"time"

	"ms-fulfillment/internal/models"
)

// Store persists payment rows. Status changes are single conditional
// updates guarded on the non-terminal set, so a terminal payment can
// never be rewritten.
type Store interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	SetIntent(ctx context.Context, paymentID, intentID string) error
	MarkPaid(ctx context.Context, paymentID, captureID string, paidAt time.Time, note string) (bool, error)
	MarkFailed(ctx context.Context, paymentID, note string) (bool, error)
	CancelNonTerminal(ctx context.Context, orderID, note string) (bool, error)

	Close() error
	HealthCheck() error
}
