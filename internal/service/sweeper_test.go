package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"order-payment-service/internal/model"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/repository"
)

func (h *harness) age(t *testing.T, orderID string, d time.Duration) {
	t.Helper()
	require.NoError(t, h.db.Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("created_at", h.now.Add(-d)).Error)
}

func TestTimeoutSweeper_SweepOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := h.place(t, standardOrder("u1", model.PaymentMethodVNPay))
	h.age(t, stale.Order.ID, 31*time.Minute)

	fresh := h.place(t, standardOrder("u1", model.PaymentMethodVNPay))
	h.age(t, fresh.Order.ID, 10*time.Minute)

	cash := h.place(t, standardOrder("u1", model.PaymentMethodCash))
	h.age(t, cash.Order.ID, 2*time.Hour)

	paid := h.place(t, standardOrder("u1", model.PaymentMethodMoMo))
	h.age(t, paid.Order.ID, time.Hour)
	_, err := h.payments.ReconcilePaymentSuccess(ctx, ReconcileInput{
		AttemptID:  paid.Payment.AttemptID,
		PaidAmount: decimal.NewFromInt(290000),
	})
	require.NoError(t, err)

	failed := h.place(t, standardOrder("u1", model.PaymentMethodMoMo))
	h.age(t, failed.Order.ID, time.Hour)
	_, err = h.payments.ReconcilePaymentFailure(ctx, failed.Payment.AttemptID, "gateway code 1006")
	require.NoError(t, err)

	assert.Equal(t, 0, h.dish(t, "pho").Stock)
	h.sink.events = nil

	n, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	order := h.order(t, stale.Order.ID)
	assert.Equal(t, model.OrderStatusCancelled, order.Status)
	assert.Equal(t, sweepReason, order.CancelReason)
	attempt := h.attempt(t, stale.Payment.AttemptID)
	assert.Equal(t, model.PaymentStatusFailed, attempt.Status)
	assert.Equal(t, "timeout", attempt.FailureReason, "the attempt reason matches the deferred expiry")

	assert.Equal(t, model.OrderStatusCancelled, h.order(t, failed.Order.ID).Status, "FAILED payments are swept too")
	assert.Equal(t, "gateway code 1006", h.attempt(t, failed.Payment.AttemptID).FailureReason)

	assert.Equal(t, model.OrderStatusPlaced, h.order(t, fresh.Order.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, h.order(t, cash.Order.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, h.order(t, paid.Order.ID).Status)

	assert.Equal(t, 4, h.dish(t, "pho").Stock, "two swept orders gave back two portions each")
	assert.Equal(t, []notify.Kind{notify.OrderCancelled, notify.OrderCancelled}, h.sink.kinds())

	n, err = h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// brokenOrderRepo fails every status transition of one order.
type brokenOrderRepo struct {
	repository.OrderRepository
	orderID string
}

func (r *brokenOrderRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, orderID string, from, to model.OrderStatus, extra map[string]interface{}) (bool, error) {
	if orderID == r.orderID {
		return false, errors.New("disk I/O error")
	}
	return r.OrderRepository.TransitionStatus(ctx, tx, orderID, from, to, extra)
}

func TestTimeoutSweeper_OneFailureDoesNotStopBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	broken := h.place(t, standardOrder("u1", model.PaymentMethodVNPay))
	h.age(t, broken.Order.ID, time.Hour)
	healthy := h.place(t, standardOrder("u2", model.PaymentMethodMoMo))
	h.age(t, healthy.Order.ID, time.Hour)

	sweeper := NewTimeoutSweeper(h.db, &brokenOrderRepo{OrderRepository: h.orderRepo, orderID: broken.Order.ID},
		h.dishRepo, h.paymentRepo, h.checks, h.notifier, h.settings, h.lg)

	n, err := sweeper.SweepOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.Order.ID)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.OrderStatusCancelled, h.order(t, healthy.Order.ID).Status)
	assert.Equal(t, model.PaymentStatusFailed, h.attempt(t, healthy.Payment.AttemptID).Status)

	assert.Equal(t, model.OrderStatusPlaced, h.order(t, broken.Order.ID).Status)
	assert.Equal(t, model.PaymentStatusPending, h.attempt(t, broken.Payment.AttemptID).Status)
	assert.Equal(t, 8, h.dish(t, "pho").Stock, "only the healthy order gave its stock back")
}

func TestTimeoutSweeper_RunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.sweeper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
