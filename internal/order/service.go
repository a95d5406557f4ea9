package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"

	"github.com/google/uuid"
)

// priceTolerance is the allowed drift between the price the client saw
// and the live catalog price at validation time.
const priceTolerance = 0.01

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderLineItem, payment *models.Payment) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	MarkProcessing(ctx context.Context, orderID string, paidAt time.Time) (bool, error)
	MarkCancelled(ctx context.Context, orderID string, cancelledAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, orderID string, completedAt time.Time) (bool, error)
}

type StockLedger interface {
	Reserve(ctx context.Context, items []models.ItemQuantity) error
	Commit(ctx context.Context, orderID string, items []models.ItemQuantity) error
	Release(ctx context.Context, orderID string, items []models.ItemQuantity) error
	ReleaseQuantities(ctx context.Context, items []models.ItemQuantity) error
}

type CatalogClient interface {
	GetVariantForPricing(ctx context.Context, variantID string) (*models.CatalogVariant, error)
}

type VoucherClient interface {
	Validate(ctx context.Context, voucherID string, subtotal float64) (*models.VoucherValidation, error)
	IncrementUsage(ctx context.Context, voucherID string) error
}

type PaymentStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	CancelNonTerminal(ctx context.Context, orderID, note string) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// OrderService owns the order lifecycle. All status changes funnel
// through Transition's guarded updates: the first writer to reach a
// terminal state wins and later conflicting writers are rejected.
type OrderService struct {
	DB       DBLayer
	Ledger   StockLedger
	Catalog  CatalogClient
	Vouchers VoucherClient
	Payments PaymentStore
	Events   EventPublisher
	Topics   config.TopicConfig
	Currency string
	Logger   *logger.Logger
}

func NewOrderService(db DBLayer, ledger StockLedger, catalog CatalogClient, vouchers VoucherClient, payments PaymentStore, events EventPublisher, topics config.TopicConfig, currency string, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:       db,
		Ledger:   ledger,
		Catalog:  catalog,
		Vouchers: vouchers,
		Payments: payments,
		Events:   events,
		Topics:   topics,
		Currency: currency,
		Logger:   log,
	}
}

// CreateOrder validates the request against the live catalog and the
// voucher service, reserves stock atomically and persists the order
// with its line-item snapshot and the initial payment row. On any
// validation or reservation failure nothing is persisted.
func (s *OrderService) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	if len(req.Items) == 0 {
		return nil, errs.Validation("items", "order must contain at least one item")
	}
	if req.PaymentMethod != models.MethodCashOnDelivery && req.PaymentMethod != models.MethodGateway {
		return nil, errs.Validation("payment_method", "unsupported payment method %q", req.PaymentMethod)
	}

	orderID := uuid.NewString()
	lineItems := make([]models.OrderLineItem, 0, len(req.Items))
	var subtotal float64

	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, errs.Validation("quantity", "must be positive for variant %s", it.VariantID)
		}

		variant, err := s.Catalog.GetVariantForPricing(ctx, it.VariantID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Validation("variant_id", "unknown variant %s", it.VariantID)
		}
		if err != nil {
			return nil, err
		}

		if math.Abs(variant.UnitPrice-it.UnitPrice) > priceTolerance {
			return nil, errs.Validation("unit_price",
				"price for %s changed: catalog %.2f, request %.2f", variant.Name, variant.UnitPrice, it.UnitPrice)
		}

		// Pre-check only. The ledger's conditional update is the
		// authoritative availability decision.
		if variant.AvailableStock < it.Quantity {
			return nil, &errs.InsufficientStockError{
				VariantID:   it.VariantID,
				ProductName: variant.Name,
				Available:   variant.AvailableStock,
				Requested:   it.Quantity,
			}
		}

		subtotal += variant.UnitPrice * float64(it.Quantity)
		lineItems = append(lineItems, models.OrderLineItem{
			LineID:      uuid.NewString(),
			OrderID:     orderID,
			VariantID:   variant.VariantID,
			ProductID:   variant.ProductID,
			ProductName: variant.Name,
			SKU:         variant.SKU,
			Color:       variant.Color,
			Size:        variant.Size,
			UnitPrice:   variant.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	discount, err := s.validateVoucher(ctx, req, subtotal)
	if err != nil {
		return nil, err
	}

	total := subtotal + req.ShippingFee - discount
	if math.Abs(total-req.Total) > priceTolerance {
		return nil, errs.Validation("total",
			"total %.2f does not equal subtotal %.2f + shipping %.2f - discount %.2f", req.Total, subtotal, req.ShippingFee, discount)
	}

	ledgerItems := models.LineQuantities(lineItems)
	if err := s.Ledger.Reserve(ctx, ledgerItems); err != nil {
		var insufficient *errs.InsufficientStockError
		if errors.As(err, &insufficient) && insufficient.ProductName == "" {
			insufficient.ProductName = s.productName(lineItems, insufficient.VariantID)
		}
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		OrderID:        orderID,
		OrderNumber:    utils.NewOrderNumber(),
		UserID:         req.UserID,
		VoucherID:      req.VoucherID,
		Subtotal:       subtotal,
		ShippingFee:    req.ShippingFee,
		Discount:       discount,
		Total:          total,
		Status:         models.OrderPending,
		StockState:     models.StockReserved,
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
		ShippingAddr:   req.ShippingAddr,
		CreatedAt:      now,
		Items:          lineItems,
	}

	payment := &models.Payment{
		PaymentID: utils.GeneratePaymentID(),
		OrderID:   orderID,
		Method:    req.PaymentMethod,
		Status:    initialPaymentStatus(req.PaymentMethod),
		Amount:    total,
		Currency:  s.Currency,
		Note:      "created with order",
		CreatedAt: now,
	}

	if err := s.DB.CreateOrder(ctx, order, lineItems, payment); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to persist order %s, compensating reservation: %v", orderID, err))
		if relErr := s.Ledger.ReleaseQuantities(ctx, ledgerItems); relErr != nil {
			s.Logger.Error("INVENTORY", fmt.Sprintf("Compensation failed for order %s: %v", orderID, relErr))
		}
		return nil, err
	}

	// Usage counts at creation and is not decremented on a later
	// cancellation. Failures here must not unwind a placed order.
	if req.VoucherID != "" {
		if err := s.Vouchers.IncrementUsage(ctx, req.VoucherID); err != nil {
			s.Logger.Error("VOUCHER", fmt.Sprintf("Failed to increment usage for voucher %s: %v", req.VoucherID, err))
		}
	}

	s.publish(ctx, s.Topics.OrderCreated, order)
	s.Logger.Info("ORDER", fmt.Sprintf("Order %s (%s) created, total %.2f", orderID, order.OrderNumber, total))

	return &models.OrderResponse{Order: order, Payment: payment}, nil
}

// Transition applies a lifecycle event to the order. The status guard
// in the underlying update is the linearization point: an event that
// does not match a legal transition is rejected without mutation.
func (s *OrderService) Transition(ctx context.Context, orderID string, event models.OrderEvent) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	items := models.LineQuantities(order.Items)
	now := time.Now()

	switch event {
	case models.EventPaymentSucceeded:
		ok, err := s.DB.MarkProcessing(ctx, orderID, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.illegal(orderID, event, order.Status)
		}
		if err := s.Ledger.Commit(ctx, orderID, items); err != nil {
			return err
		}
		s.publish(ctx, s.Topics.OrderPaid, order)
		s.Logger.Info("ORDER", fmt.Sprintf("Order %s moved to processing (payment succeeded)", orderID))

	case models.EventPaymentFailed, models.EventAbandoned:
		ok, err := s.DB.MarkCancelled(ctx, orderID, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.illegal(orderID, event, order.Status)
		}
		if err := s.Ledger.Release(ctx, orderID, items); err != nil {
			return err
		}
		note := "payment failed"
		if event == models.EventAbandoned {
			note = "abandoned past staleness threshold"
		}
		if _, err := s.Payments.CancelNonTerminal(ctx, orderID, note); err != nil {
			s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to cancel payment for order %s: %v", orderID, err))
		}
		if event == models.EventPaymentFailed {
			s.publish(ctx, s.Topics.PaymentFailed, order)
		}
		s.publish(ctx, s.Topics.OrderCancelled, order)
		s.Logger.Info("ORDER", fmt.Sprintf("Order %s cancelled (%s)", orderID, note))

	case models.EventFulfilled:
		ok, err := s.DB.MarkCompleted(ctx, orderID, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.illegal(orderID, event, order.Status)
		}
		s.Logger.Info("ORDER", fmt.Sprintf("Order %s completed", orderID))

	default:
		return errs.Validation("event", "unknown order event %q", event)
	}

	return nil
}

// CancelOrder handles a user or admin cancellation before fulfillment.
// Committed stock is not restocked here: a refund for a paid order is
// logged for manual follow-up, not automated.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return s.illegal(orderID, "cancel", order.Status)
	}

	ok, err := s.DB.MarkCancelled(ctx, orderID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race against another terminal transition.
		return s.illegal(orderID, "cancel", order.Status)
	}

	if err := s.Ledger.Release(ctx, orderID, models.LineQuantities(order.Items)); err != nil {
		return err
	}
	if _, err := s.Payments.CancelNonTerminal(ctx, orderID, "cancelled by user"); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to cancel payment for order %s: %v", orderID, err))
	}
	if order.Paid {
		s.Logger.Warn("ORDER", fmt.Sprintf("Order %s was paid before cancellation, refund requires manual follow-up", orderID))
	}

	s.publish(ctx, s.Topics.OrderCancelled, order)
	s.Logger.Info("ORDER", fmt.Sprintf("Order %s cancelled by user", orderID))
	return nil
}

// GetOrder returns the order with its payment snapshot.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.OrderResponse, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.Payments.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return &models.OrderResponse{Order: order, Payment: payment}, nil
}

func (s *OrderService) validateVoucher(ctx context.Context, req models.OrderRequest, subtotal float64) (float64, error) {
	if req.VoucherID == "" {
		if req.Discount != 0 {
			return 0, errs.Validation("discount", "discount without voucher")
		}
		return 0, nil
	}

	validation, err := s.Vouchers.Validate(ctx, req.VoucherID, subtotal)
	if err != nil {
		return 0, err
	}
	if !validation.Valid {
		return 0, errs.Validation("voucher_id", "voucher %s rejected: %s", req.VoucherID, validation.Reason)
	}
	if math.Abs(validation.DiscountAmount-req.Discount) > priceTolerance {
		return 0, errs.Validation("discount",
			"discount %.2f does not match voucher amount %.2f", req.Discount, validation.DiscountAmount)
	}
	return validation.DiscountAmount, nil
}

func (s *OrderService) illegal(orderID string, event models.OrderEvent, status models.OrderStatus) error {
	return &errs.IllegalTransitionError{OrderID: orderID, Event: string(event), Status: string(status)}
}

func (s *OrderService) productName(items []models.OrderLineItem, variantID string) string {
	for _, it := range items {
		if it.VariantID == variantID {
			return it.ProductName
		}
	}
	return ""
}

func (s *OrderService) publish(ctx context.Context, topic string, order *models.Order) {
	if s.Events == nil || topic == "" {
		return
	}
	if err := s.Events.Publish(ctx, topic, order.OrderID, order); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Publish to %s failed for order %s: %v", topic, order.OrderID, err))
	}
}

func initialPaymentStatus(method models.PaymentMethod) models.PaymentStatus {
	if method == models.MethodCashOnDelivery {
		return models.PaymentUnpaid
	}
	return models.PaymentPending
}
