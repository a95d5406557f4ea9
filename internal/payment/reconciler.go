package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/payment/gateway"
	"ms-fulfillment/internal/payment/storage"
	"ms-fulfillment/internal/utils"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// OrderFlow is the slice of the order service the reconciler drives:
// reading the order it is paying for and feeding payment outcomes back
// into the order state machine.
type OrderFlow interface {
	GetOrder(ctx context.Context, orderID string) (*models.OrderResponse, error)
	Transition(ctx context.Context, orderID string, event models.OrderEvent) error
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount float64, currency, reference string) (*gateway.Intent, error)
	Capture(ctx context.Context, intentID string) (*gateway.Capture, error)
}

type CaptureLocks interface {
	AcquireCapture(ctx context.Context, orderID, holder string) (bool, error)
	ReleaseCapture(ctx context.Context, orderID, holder string) error
}

// Reconciler keeps the Payment row, the remote gateway and the order
// state machine agreeing with each other. All gateway calls are
// timeout-bounded; a transport failure leaves the payment untouched so
// the same call can be retried.
type Reconciler struct {
	Store   storage.Store
	Orders  OrderFlow
	Gateway Gateway
	Locks   CaptureLocks
	Cfg     config.PaymentConfig
	Logger  *logger.Logger
}

func NewReconciler(store storage.Store, orders OrderFlow, gw Gateway, locks CaptureLocks, cfg config.PaymentConfig, log *logger.Logger) *Reconciler {
	return &Reconciler{
		Store:   store,
		Orders:  orders,
		Gateway: gw,
		Locks:   locks,
		Cfg:     cfg,
		Logger:  log,
	}
}

// ConvertAmount converts an order total into the settlement currency
// and clamps it to the gateway's minimum chargeable amount. Pure, so
// the conversion is trivially testable.
func ConvertAmount(total, rate, minimum float64) float64 {
	amount := math.Round(total*rate*100) / 100
	if amount < minimum {
		amount = minimum
	}
	return amount
}

// OpenGatewayPayment opens the remote payment for a pending order and
// returns the approval link the buyer must visit, plus a QR rendering
// of it. The Payment row stays pending until a capture is confirmed.
func (r *Reconciler) OpenGatewayPayment(ctx context.Context, orderID string) (*models.GatewayPaymentResponse, error) {
	resp, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order := resp.Order
	if order.Status != models.OrderPending {
		return nil, errs.Validation("order_id", "order %s is %s, gateway payment can only be opened while pending", orderID, order.Status)
	}

	payment, err := r.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Method != models.MethodGateway {
		return nil, errs.Validation("order_id", "order %s uses payment method %s", orderID, payment.Method)
	}
	if payment.Status.Terminal() {
		return nil, errs.Validation("order_id", "payment for order %s is already %s", orderID, payment.Status)
	}

	amount := ConvertAmount(order.Total, r.Cfg.ExchangeRate, r.Cfg.MinimumCharge)

	gctx, cancel := context.WithTimeout(ctx, r.Cfg.GatewayTimeout)
	defer cancel()

	intent, err := r.Gateway.CreateIntent(gctx, amount, r.Cfg.SettlementCurrency, order.OrderNumber)
	if err != nil {
		return nil, &errs.GatewayUnavailableError{Op: "create_intent", Err: err}
	}

	if err := r.Store.SetIntent(ctx, payment.PaymentID, intent.IntentID); err != nil {
		r.Logger.Error("PAYMENT", fmt.Sprintf("Failed to record intent %s for payment %s: %v", intent.IntentID, payment.PaymentID, err))
		return nil, err
	}

	out := &models.GatewayPaymentResponse{
		PaymentID:    payment.PaymentID,
		IntentID:     intent.IntentID,
		ApprovalLink: intent.ApprovalLink,
	}
	if png, qrErr := qrcode.Encode(intent.ApprovalLink, qrcode.Medium, 256); qrErr != nil {
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to render approval QR for order %s: %v", orderID, qrErr))
	} else {
		out.ApprovalQR = png
	}

	r.Logger.Info("PAYMENT", fmt.Sprintf("Opened gateway payment %s for order %s (%.2f %s)", payment.PaymentID, orderID, amount, r.Cfg.SettlementCurrency))
	return out, nil
}

// ConfirmCapture settles the order's pending payment. The call is
// idempotent: once the payment is terminal, the recorded outcome is
// returned without another gateway round trip. Only a non-completed
// gateway status marks the payment failed; transport errors surface as
// GatewayUnavailableError and change nothing.
func (r *Reconciler) ConfirmCapture(ctx context.Context, orderID, intentID string) (*models.CaptureResult, error) {
	holder := uuid.New().String()
	ok, err := r.Locks.AcquireCapture(ctx, orderID, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire capture lock: %w", err)
	}
	if !ok {
		return nil, errs.ErrCaptureInProgress
	}
	defer func() {
		if err := r.Locks.ReleaseCapture(ctx, orderID, holder); err != nil {
			r.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to release capture lock for order %s: %v", orderID, err))
		}
	}()

	payment, err := r.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		if payment.Status == models.PaymentPaid {
			// The payment can be paid with the order left pending if a
			// previous finalize died between MarkPaid and the order
			// update. Re-apply the success event before replaying; the
			// transition guard makes this a no-op once the order moved.
			if err := r.redriveOrder(ctx, orderID); err != nil {
				return nil, err
			}
		}
		r.Logger.Info("PAYMENT", fmt.Sprintf("Capture for order %s replayed, payment %s already %s", orderID, payment.PaymentID, payment.Status))
		return captureResult(payment, true), nil
	}
	if payment.Method != models.MethodGateway {
		return nil, errs.Validation("order_id", "order %s uses payment method %s", orderID, payment.Method)
	}
	if payment.IntentID == "" {
		return nil, errs.Validation("intent_id", "no gateway payment opened for order %s", orderID)
	}
	if intentID != "" && intentID != payment.IntentID {
		return nil, errs.Validation("intent_id", "intent %s does not match the open payment", intentID)
	}

	gctx, cancel := context.WithTimeout(ctx, r.Cfg.GatewayTimeout)
	defer cancel()

	capture, err := r.Gateway.Capture(gctx, payment.IntentID)
	if err != nil {
		return nil, &errs.GatewayUnavailableError{Op: "capture", Err: err}
	}

	if strings.EqualFold(capture.Status, gateway.StatusCompleted) {
		return r.settleSuccess(ctx, payment, capture)
	}
	return r.settleFailure(ctx, payment, capture)
}

func (r *Reconciler) settleSuccess(ctx context.Context, payment *models.Payment, capture *gateway.Capture) (*models.CaptureResult, error) {
	paidAt := capture.CapturedAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	note := fmt.Sprintf("captured %s at gateway", capture.CaptureID)

	updated, err := r.Store.MarkPaid(ctx, payment.PaymentID, capture.CaptureID, paidAt, note)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost a race to another finalizer; report what it recorded.
		return r.replay(ctx, payment.OrderID)
	}

	if err := r.Orders.Transition(ctx, payment.OrderID, models.EventPaymentSucceeded); err != nil {
		var illegal *errs.IllegalTransitionError
		if errors.As(err, &illegal) {
			// Order moved on concurrently (e.g. swept). Money is
			// captured, so flag it for a manual refund.
			r.Logger.Error("PAYMENT", fmt.Sprintf("Order %s not payable after capture (%v), refund required", payment.OrderID, err))
		} else {
			return nil, err
		}
	}

	payment.Status = models.PaymentPaid
	payment.CaptureID = capture.CaptureID
	payment.PaidAt = &paidAt
	r.Logger.Info("PAYMENT", fmt.Sprintf("Payment %s captured for order %s", payment.PaymentID, payment.OrderID))
	return captureResult(payment, false), nil
}

func (r *Reconciler) settleFailure(ctx context.Context, payment *models.Payment, capture *gateway.Capture) (*models.CaptureResult, error) {
	note := fmt.Sprintf("gateway returned %s", capture.Status)

	updated, err := r.Store.MarkFailed(ctx, payment.PaymentID, note)
	if err != nil {
		return nil, err
	}
	if !updated {
		return r.replay(ctx, payment.OrderID)
	}

	if err := r.Orders.Transition(ctx, payment.OrderID, models.EventPaymentFailed); err != nil {
		var illegal *errs.IllegalTransitionError
		if !errors.As(err, &illegal) {
			return nil, err
		}
	}

	payment.Status = models.PaymentFailed
	r.Logger.Warn("PAYMENT", fmt.Sprintf("Payment %s for order %s failed: %s", payment.PaymentID, payment.OrderID, note))
	return captureResult(payment, false), nil
}

// redriveOrder re-applies PaymentSucceeded for an already-paid
// payment. Orders that advanced normally reject the event on the
// status guard; only an order stranded pending by a crashed finalize
// actually moves.
func (r *Reconciler) redriveOrder(ctx context.Context, orderID string) error {
	err := r.Orders.Transition(ctx, orderID, models.EventPaymentSucceeded)
	if err == nil {
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Order %s was still payable after an earlier capture, payment success re-driven", orderID))
		return nil
	}
	var illegal *errs.IllegalTransitionError
	if errors.As(err, &illegal) {
		return nil
	}
	return err
}

func (r *Reconciler) replay(ctx context.Context, orderID string) (*models.CaptureResult, error) {
	payment, err := r.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return captureResult(payment, true), nil
}

// RetryPayment abandons the order's live payment and opens a fresh one
// with the requested method. Allowed only while the order is still
// pending; the single-statement cancel keeps at most one non-terminal
// payment per order.
func (r *Reconciler) RetryPayment(ctx context.Context, orderID string, method models.PaymentMethod) (*models.Payment, error) {
	if method != models.MethodCashOnDelivery && method != models.MethodGateway {
		return nil, errs.Validation("payment_method", "unknown payment method %q", method)
	}

	resp, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order := resp.Order
	if order.Status != models.OrderPending {
		return nil, &errs.IllegalTransitionError{
			OrderID: orderID,
			Event:   "retry_payment",
			Status:  string(order.Status),
		}
	}

	previous, err := r.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	cancelled, err := r.Store.CancelNonTerminal(ctx, orderID, "superseded by retry")
	if err != nil {
		return nil, err
	}
	if cancelled {
		r.Logger.Info("PAYMENT", fmt.Sprintf("Cancelled live payment for order %s ahead of retry", orderID))
	}

	fresh := &models.Payment{
		PaymentID: utils.GeneratePaymentID(),
		OrderID:   orderID,
		Method:    method,
		Status:    initialStatus(method),
		Amount:    order.Total,
		Currency:  previous.Currency,
		Note:      "created by retry",
		CreatedAt: time.Now(),
	}
	if err := r.Store.SavePayment(ctx, fresh); err != nil {
		return nil, err
	}

	r.Logger.Info("PAYMENT", fmt.Sprintf("Opened retry payment %s (%s) for order %s", fresh.PaymentID, method, orderID))
	return fresh, nil
}

func captureResult(payment *models.Payment, replayed bool) *models.CaptureResult {
	return &models.CaptureResult{
		PaymentID: payment.PaymentID,
		OrderID:   payment.OrderID,
		Status:    payment.Status,
		CaptureID: payment.CaptureID,
		PaidAt:    payment.PaidAt,
		Replayed:  replayed,
	}
}

func initialStatus(method models.PaymentMethod) models.PaymentStatus {
	if method == models.MethodGateway {
		return models.PaymentPending
	}
	return models.PaymentUnpaid
}
