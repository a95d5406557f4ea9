package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateOrder(ctx context.Context, o *models.Order, items []models.OrderLineItem, payment *models.Payment) error {
	args := m.Called(ctx, o, items, payment)
	return args.Error(0)
}

func (m *MockDBLayer) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockDBLayer) MarkProcessing(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, orderID, paidAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) MarkCancelled(ctx context.Context, orderID string, cancelledAt time.Time) (bool, error) {
	args := m.Called(ctx, orderID, cancelledAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) MarkCompleted(ctx context.Context, orderID string, completedAt time.Time) (bool, error) {
	args := m.Called(ctx, orderID, completedAt)
	return args.Bool(0), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Reserve(ctx context.Context, items []models.ItemQuantity) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockLedger) Commit(ctx context.Context, orderID string, items []models.ItemQuantity) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *MockLedger) Release(ctx context.Context, orderID string, items []models.ItemQuantity) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *MockLedger) ReleaseQuantities(ctx context.Context, items []models.ItemQuantity) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetVariantForPricing(ctx context.Context, variantID string) (*models.CatalogVariant, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CatalogVariant), args.Error(1)
}

type MockVouchers struct {
	mock.Mock
}

func (m *MockVouchers) Validate(ctx context.Context, voucherID string, subtotal float64) (*models.VoucherValidation, error) {
	args := m.Called(ctx, voucherID, subtotal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VoucherValidation), args.Error(1)
}

func (m *MockVouchers) IncrementUsage(ctx context.Context, voucherID string) error {
	args := m.Called(ctx, voucherID)
	return args.Error(0)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPayments) CancelNonTerminal(ctx context.Context, orderID, note string) (bool, error) {
	args := m.Called(ctx, orderID, note)
	return args.Bool(0), args.Error(1)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type serviceMocks struct {
	db       *MockDBLayer
	ledger   *MockLedger
	catalog  *MockCatalog
	vouchers *MockVouchers
	payments *MockPayments
	events   *MockEvents
}

func newService(t *testing.T) (*order.OrderService, *serviceMocks) {
	t.Helper()
	m := &serviceMocks{
		db:       new(MockDBLayer),
		ledger:   new(MockLedger),
		catalog:  new(MockCatalog),
		vouchers: new(MockVouchers),
		payments: new(MockPayments),
		events:   new(MockEvents),
	}
	topics := config.TopicConfig{
		OrderCreated:   "order-created",
		OrderPaid:      "order-paid",
		OrderCancelled: "order-cancelled",
		PaymentFailed:  "payment-failed",
	}
	svc := order.NewOrderService(m.db, m.ledger, m.catalog, m.vouchers, m.payments, m.events, topics, "usd", logger.NewLogger("order-test"))
	return svc, m
}

func toteVariant() *models.CatalogVariant {
	return &models.CatalogVariant{
		VariantID:      "v1",
		ProductID:      "p1",
		Name:           "Canvas Tote",
		SKU:            "TOTE-1",
		UnitPrice:      50,
		AvailableStock: 10,
	}
}

func validRequest() models.OrderRequest {
	return models.OrderRequest{
		RecipientName:  "Jordan Chen",
		RecipientPhone: "+15550100",
		ShippingAddr:   "1 Main St",
		Items: []models.OrderItemRequest{
			{VariantID: "v1", Quantity: 2, UnitPrice: 50},
		},
		ShippingFee:   10,
		Total:         110,
		PaymentMethod: models.MethodGateway,
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	m.ledger.On("Reserve", mock.Anything, []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}).Return(nil)
	m.db.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.events.On("Publish", mock.Anything, "order-created", mock.Anything, mock.Anything).Return(nil)

	resp, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.Order)
	require.NotNil(t, resp.Payment)

	assert.Equal(t, models.OrderPending, resp.Order.Status)
	assert.Equal(t, models.StockReserved, resp.Order.StockState)
	assert.Equal(t, 110.0, resp.Order.Total)
	assert.Equal(t, models.PaymentPending, resp.Payment.Status)
	assert.Equal(t, 110.0, resp.Payment.Amount)

	// The snapshot carries catalog data, not request data.
	require.Len(t, resp.Order.Items, 1)
	assert.Equal(t, "Canvas Tote", resp.Order.Items[0].ProductName)
	assert.Equal(t, "p1", resp.Order.Items[0].ProductID)

	m.db.AssertExpectations(t)
	m.ledger.AssertExpectations(t)
}

func TestCreateOrderCashOnDeliveryStartsUnpaid(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	m.ledger.On("Reserve", mock.Anything, mock.Anything).Return(nil)
	m.db.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.events.On("Publish", mock.Anything, "order-created", mock.Anything, mock.Anything).Return(nil)

	req := validRequest()
	req.PaymentMethod = models.MethodCashOnDelivery

	resp, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentUnpaid, resp.Payment.Status)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	svc, _ := newService(t)

	req := validRequest()
	req.Items = nil

	_, err := svc.CreateOrder(context.Background(), req)
	var validation *errs.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCreateOrderRejectsPriceMismatch(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)

	req := validRequest()
	req.Items[0].UnitPrice = 45 // catalog says 50

	_, err := svc.CreateOrder(context.Background(), req)
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "unit_price", validation.Field)

	m.ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
}

func TestCreateOrderRejectsTotalMismatch(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)

	req := validRequest()
	req.Total = 99.99

	_, err := svc.CreateOrder(context.Background(), req)
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "total", validation.Field)
}

func TestCreateOrderInsufficientStockPreCheck(t *testing.T) {
	svc, m := newService(t)

	variant := toteVariant()
	variant.AvailableStock = 1
	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(variant, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	var insufficient *errs.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "Canvas Tote", insufficient.ProductName)
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 2, insufficient.Requested)
}

func TestCreateOrderReservationFailureNamesProduct(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	// Pre-check passed but the ledger lost the race.
	m.ledger.On("Reserve", mock.Anything, mock.Anything).Return(&errs.InsufficientStockError{
		VariantID: "v1",
		Available: 0,
		Requested: 2,
	})

	_, err := svc.CreateOrder(context.Background(), validRequest())
	var insufficient *errs.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "Canvas Tote", insufficient.ProductName)

	m.db.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrderCompensatesOnPersistFailure(t *testing.T) {
	svc, m := newService(t)

	items := []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}
	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	m.ledger.On("Reserve", mock.Anything, items).Return(nil)
	m.db.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	m.ledger.On("ReleaseQuantities", mock.Anything, items).Return(nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	assert.Error(t, err)

	m.ledger.AssertCalled(t, "ReleaseQuantities", mock.Anything, items)
}

func TestCreateOrderWithVoucher(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	m.vouchers.On("Validate", mock.Anything, "SAVE20", 100.0).Return(&models.VoucherValidation{
		VoucherID:      "SAVE20",
		Valid:          true,
		DiscountAmount: 20,
	}, nil)
	m.ledger.On("Reserve", mock.Anything, mock.Anything).Return(nil)
	m.db.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.vouchers.On("IncrementUsage", mock.Anything, "SAVE20").Return(nil)
	m.events.On("Publish", mock.Anything, "order-created", mock.Anything, mock.Anything).Return(nil)

	req := validRequest()
	req.VoucherID = "SAVE20"
	req.Discount = 20
	req.Total = 90

	resp, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 90.0, resp.Order.Total)
	assert.Equal(t, 20.0, resp.Order.Discount)

	m.vouchers.AssertCalled(t, "IncrementUsage", mock.Anything, "SAVE20")
}

func TestCreateOrderRejectsInvalidVoucher(t *testing.T) {
	svc, m := newService(t)

	m.catalog.On("GetVariantForPricing", mock.Anything, "v1").Return(toteVariant(), nil)
	m.vouchers.On("Validate", mock.Anything, "EXPIRED", 100.0).Return(&models.VoucherValidation{
		VoucherID: "EXPIRED",
		Valid:     false,
		Reason:    "voucher expired",
	}, nil)

	req := validRequest()
	req.VoucherID = "EXPIRED"
	req.Discount = 20
	req.Total = 90

	_, err := svc.CreateOrder(context.Background(), req)
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "voucher_id", validation.Field)

	m.ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
}

func pendingOrder(orderID string) *models.Order {
	return &models.Order{
		OrderID:     orderID,
		OrderNumber: "SO-TEST",
		Status:      models.OrderPending,
		StockState:  models.StockReserved,
		Total:       110,
		CreatedAt:   time.Now(),
		Items: []models.OrderLineItem{
			{LineID: "l1", OrderID: orderID, VariantID: "v1", ProductName: "Canvas Tote", Quantity: 2},
		},
	}
}

func TestTransitionPaymentSucceeded(t *testing.T) {
	svc, m := newService(t)
	items := []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)
	m.db.On("MarkProcessing", mock.Anything, "o1", mock.Anything).Return(true, nil)
	m.ledger.On("Commit", mock.Anything, "o1", items).Return(nil)
	m.events.On("Publish", mock.Anything, "order-paid", mock.Anything, mock.Anything).Return(nil)

	err := svc.Transition(context.Background(), "o1", models.EventPaymentSucceeded)
	require.NoError(t, err)

	m.ledger.AssertCalled(t, "Commit", mock.Anything, "o1", items)
	m.ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitionPaymentFailedReleasesStock(t *testing.T) {
	svc, m := newService(t)
	items := []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)
	m.db.On("MarkCancelled", mock.Anything, "o1", mock.Anything).Return(true, nil)
	m.ledger.On("Release", mock.Anything, "o1", items).Return(nil)
	m.payments.On("CancelNonTerminal", mock.Anything, "o1", "payment failed").Return(true, nil)
	m.events.On("Publish", mock.Anything, "payment-failed", mock.Anything, mock.Anything).Return(nil)
	m.events.On("Publish", mock.Anything, "order-cancelled", mock.Anything, mock.Anything).Return(nil)

	err := svc.Transition(context.Background(), "o1", models.EventPaymentFailed)
	require.NoError(t, err)

	m.ledger.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
	// A failed payment raises its own event alongside the cancellation.
	m.events.AssertCalled(t, "Publish", mock.Anything, "payment-failed", "o1", mock.Anything)
	m.events.AssertCalled(t, "Publish", mock.Anything, "order-cancelled", "o1", mock.Anything)
}

func TestTransitionAbandonedDoesNotRaisePaymentFailed(t *testing.T) {
	svc, m := newService(t)
	items := []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)
	m.db.On("MarkCancelled", mock.Anything, "o1", mock.Anything).Return(true, nil)
	m.ledger.On("Release", mock.Anything, "o1", items).Return(nil)
	m.payments.On("CancelNonTerminal", mock.Anything, "o1", "abandoned past staleness threshold").Return(true, nil)
	m.events.On("Publish", mock.Anything, "order-cancelled", mock.Anything, mock.Anything).Return(nil)

	err := svc.Transition(context.Background(), "o1", models.EventAbandoned)
	require.NoError(t, err)

	m.events.AssertNotCalled(t, "Publish", mock.Anything, "payment-failed", mock.Anything, mock.Anything)
}

func TestTransitionRejectedOnGuardMiss(t *testing.T) {
	svc, m := newService(t)

	completed := pendingOrder("o1")
	completed.Status = models.OrderCompleted

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(completed, nil)
	m.db.On("MarkCancelled", mock.Anything, "o1", mock.Anything).Return(false, nil)

	err := svc.Transition(context.Background(), "o1", models.EventAbandoned)
	var illegal *errs.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "o1", illegal.OrderID)

	m.ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
	m.payments.AssertNotCalled(t, "CancelNonTerminal", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitionUnknownEvent(t *testing.T) {
	svc, m := newService(t)

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)

	err := svc.Transition(context.Background(), "o1", models.OrderEvent("sideways"))
	var validation *errs.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCancelOrderTerminalLockIn(t *testing.T) {
	svc, m := newService(t)

	cancelled := pendingOrder("o1")
	cancelled.Status = models.OrderCancelled

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(cancelled, nil)

	err := svc.CancelOrder(context.Background(), "o1")
	var illegal *errs.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	m.db.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrderReleasesAndCancelsPayment(t *testing.T) {
	svc, m := newService(t)
	items := []models.ItemQuantity{{VariantID: "v1", Quantity: 2}}

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)
	m.db.On("MarkCancelled", mock.Anything, "o1", mock.Anything).Return(true, nil)
	m.ledger.On("Release", mock.Anything, "o1", items).Return(nil)
	m.payments.On("CancelNonTerminal", mock.Anything, "o1", "cancelled by user").Return(true, nil)
	m.events.On("Publish", mock.Anything, "order-cancelled", mock.Anything, mock.Anything).Return(nil)

	err := svc.CancelOrder(context.Background(), "o1")
	require.NoError(t, err)

	m.ledger.AssertExpectations(t)
	m.payments.AssertExpectations(t)
}

func TestGetOrderIncludesPaymentSnapshot(t *testing.T) {
	svc, m := newService(t)

	m.db.On("GetOrderByID", mock.Anything, "o1").Return(pendingOrder("o1"), nil)
	m.payments.On("GetByOrderID", mock.Anything, "o1").Return(&models.Payment{
		PaymentID: "pay_1",
		OrderID:   "o1",
		Status:    models.PaymentPending,
	}, nil)

	resp, err := svc.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "pay_1", resp.Payment.PaymentID)
}

func TestGetOrderNotFound(t *testing.T) {
	svc, m := newService(t)

	m.db.On("GetOrderByID", mock.Anything, "missing").Return(nil, errs.ErrNotFound)

	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
