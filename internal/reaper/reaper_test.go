package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/notify"
)

// Mock cart source for testing
type MockCartSource struct {
	mock.Mock
}

func (m *MockCartSource) FindStaleCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error) {
	args := m.Called(ctx, updatedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

// Mock expirer for testing
type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) Expire(ctx context.Context, orderID uuid.UUID) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// Mock notification sink for testing
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, event notify.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:      time.Minute,
		IdleThreshold: 2 * time.Hour,
		SweepLimit:    100,
	}
}

func staleCart() models.Order {
	return models.Order{
		ID:          uuid.New(),
		BusinessID:  uuid.New(),
		CustomerKey: "whatsapp:+15551234567",
		Status:      models.StatusCart,
	}
}

func TestSweepExpiresAndNotifies(t *testing.T) {
	carts := new(MockCartSource)
	expirer := new(MockExpirer)
	sink := new(MockSink)
	r := NewReaper(carts, expirer, sink, testReaperConfig())

	first := staleCart()
	second := staleCart()
	carts.On("FindStaleCarts", mock.Anything, mock.Anything, 100).
		Return([]models.Order{first, second}, nil)
	expirer.On("Expire", mock.Anything, first.ID).Return(nil)
	expirer.On("Expire", mock.Anything, second.ID).Return(nil)
	sink.On("Publish", mock.Anything, mock.MatchedBy(func(e notify.Event) bool {
		return e.Type == notify.EventCartAbandoned && e.OrderID == first.ID
	})).Return(nil)
	sink.On("Publish", mock.Anything, mock.MatchedBy(func(e notify.Event) bool {
		return e.Type == notify.EventCartAbandoned && e.OrderID == second.ID
	})).Return(nil)

	require.NoError(t, r.Sweep(context.Background()))
	expirer.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestSweepContinuesPastExpireFailure(t *testing.T) {
	carts := new(MockCartSource)
	expirer := new(MockExpirer)
	sink := new(MockSink)
	r := NewReaper(carts, expirer, sink, testReaperConfig())

	// The first cart was confirmed by a live conversation between the query
	// and the expire; the guard refuses and the sweep moves on.
	confirmed := staleCart()
	idle := staleCart()
	carts.On("FindStaleCarts", mock.Anything, mock.Anything, 100).
		Return([]models.Order{confirmed, idle}, nil)
	expirer.On("Expire", mock.Anything, confirmed.ID).Return(errors.New("illegal status transition"))
	expirer.On("Expire", mock.Anything, idle.ID).Return(nil)
	sink.On("Publish", mock.Anything, mock.MatchedBy(func(e notify.Event) bool {
		return e.OrderID == idle.ID
	})).Return(nil)

	require.NoError(t, r.Sweep(context.Background()))
	expirer.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "Publish", 1)
}

func TestSweepNotificationFailureIsSwallowed(t *testing.T) {
	carts := new(MockCartSource)
	expirer := new(MockExpirer)
	sink := new(MockSink)
	r := NewReaper(carts, expirer, sink, testReaperConfig())

	cart := staleCart()
	carts.On("FindStaleCarts", mock.Anything, mock.Anything, 100).
		Return([]models.Order{cart}, nil)
	expirer.On("Expire", mock.Anything, cart.ID).Return(nil)
	sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("queue unavailable"))

	require.NoError(t, r.Sweep(context.Background()))
}

func TestSweepQueryFailure(t *testing.T) {
	carts := new(MockCartSource)
	expirer := new(MockExpirer)
	r := NewReaper(carts, expirer, notify.NopSink{}, testReaperConfig())

	carts.On("FindStaleCarts", mock.Anything, mock.Anything, 100).
		Return(nil, errors.New("connection refused"))

	require.Error(t, r.Sweep(context.Background()))
	expirer.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything)
}

func TestSweepUsesIdleThresholdCutoff(t *testing.T) {
	carts := new(MockCartSource)
	r := NewReaper(carts, new(MockExpirer), notify.NopSink{}, testReaperConfig())

	carts.On("FindStaleCarts", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Since(cutoff)
		return age > 2*time.Hour-time.Minute && age < 2*time.Hour+time.Minute
	}), 100).Return([]models.Order{}, nil)

	require.NoError(t, r.Sweep(context.Background()))
	carts.AssertExpectations(t)
}
