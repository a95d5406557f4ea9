package sweeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/sweeper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFinder struct {
	mock.Mock
}

func (m *MockFinder) FindStalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

type MockTransitioner struct {
	mock.Mock
}

func (m *MockTransitioner) Transition(ctx context.Context, orderID string, event models.OrderEvent) error {
	args := m.Called(ctx, orderID, event)
	return args.Error(0)
}

func newSweeper(t *testing.T) (*sweeper.Sweeper, *MockFinder, *MockTransitioner) {
	t.Helper()
	finder := new(MockFinder)
	orders := new(MockTransitioner)
	cfg := config.SweeperConfig{
		Threshold: time.Hour,
		Interval:  5 * time.Minute,
	}
	return sweeper.NewSweeper(finder, orders, cfg, logger.NewLogger("sweeper-test")), finder, orders
}

func TestSweepOnceCancelsStaleOrders(t *testing.T) {
	s, finder, orders := newSweeper(t)

	stale := []models.Order{
		{OrderID: "o1", Status: models.OrderPending},
		{OrderID: "o2", Status: models.OrderPending},
	}
	finder.On("FindStalePending", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Cutoff sits one threshold behind now.
		return time.Since(cutoff) > 59*time.Minute && time.Since(cutoff) < 61*time.Minute
	})).Return(stale, nil)
	orders.On("Transition", mock.Anything, "o1", models.EventAbandoned).Return(nil)
	orders.On("Transition", mock.Anything, "o2", models.EventAbandoned).Return(nil)

	cancelled, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	orders.AssertExpectations(t)
}

func TestSweepOnceSkipsRacedOrders(t *testing.T) {
	s, finder, orders := newSweeper(t)

	stale := []models.Order{
		{OrderID: "o1", Status: models.OrderPending},
		{OrderID: "o2", Status: models.OrderPending},
	}
	finder.On("FindStalePending", mock.Anything, mock.Anything).Return(stale, nil)
	// o1 got paid between listing and cancel; the guard rejects it.
	orders.On("Transition", mock.Anything, "o1", models.EventAbandoned).Return(&errs.IllegalTransitionError{
		OrderID: "o1",
		Event:   string(models.EventAbandoned),
		Status:  string(models.OrderProcessing),
	})
	orders.On("Transition", mock.Anything, "o2", models.EventAbandoned).Return(nil)

	cancelled, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
}

func TestSweepOnceNothingStale(t *testing.T) {
	s, finder, orders := newSweeper(t)

	finder.On("FindStalePending", mock.Anything, mock.Anything).Return([]models.Order{}, nil)

	cancelled, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)

	orders.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepOnceListFailure(t *testing.T) {
	s, finder, _ := newSweeper(t)

	finder.On("FindStalePending", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := s.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestSweepOnceContinuesPastTransitionErrors(t *testing.T) {
	s, finder, orders := newSweeper(t)

	stale := []models.Order{
		{OrderID: "o1", Status: models.OrderPending},
		{OrderID: "o2", Status: models.OrderPending},
	}
	finder.On("FindStalePending", mock.Anything, mock.Anything).Return(stale, nil)
	orders.On("Transition", mock.Anything, "o1", models.EventAbandoned).Return(errors.New("db down"))
	orders.On("Transition", mock.Anything, "o2", models.EventAbandoned).Return(nil)

	cancelled, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
}
