package service

import (
	"context"
	"order-payment-service/internal/deferred"
	"order-payment-service/internal/metrics"
	"order-payment-service/internal/model"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/repository"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepReason = "payment timeout"

// TimeoutSweeper cancels orders whose online payment never completed within
// the grace window.
type TimeoutSweeper struct {
	db        *gorm.DB
	orderRepo repository.OrderRepository
	cancel    *canceller
	checks    *deferred.Scheduler
	notifier  *notify.BestEffort
	settings  Settings
	lg        *zap.Logger
}

func NewTimeoutSweeper(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	dishRepo repository.DishRepository,
	paymentRepo repository.PaymentRepository,
	checks *deferred.Scheduler,
	notifier *notify.BestEffort,
	settings Settings,
	lg *zap.Logger,
) *TimeoutSweeper {
	return &TimeoutSweeper{
		db:        db,
		orderRepo: orderRepo,
		cancel:    newCanceller(orderRepo, dishRepo, paymentRepo),
		checks:    checks,
		notifier:  notifier,
		settings:  settings,
		lg:        lg,
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (s *TimeoutSweeper) Run(ctx context.Context) error {
	interval := s.settings.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.lg.Info("Timeout sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.lg.Info("Timeout sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.lg.Warn("Timeout sweep finished with errors", zap.Int("cancelled", n), zap.Error(err))
			} else if n > 0 {
				s.lg.Info("Timeout sweep finished", zap.Int("cancelled", n))
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many orders it cancelled.
// Every order gets its own transaction; one failing does not stop the rest.
func (s *TimeoutSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.settings.Now().Add(-s.settings.GraceWindow)
	orders, err := s.orderRepo.FindStaleUnpaid(ctx, model.OnlinePaymentMethods, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "find stale orders")
	}

	var (
		cancelled int
		errs      error
	)
	for _, order := range orders {
		out, err := s.sweepOrder(ctx, order)
		if err != nil {
			s.lg.Warn("Failed to cancel stale order", zap.String("order_id", order.ID), zap.Error(err))
			errs = multierr.Append(errs, errors.Wrapf(err, "order %s", order.ID))
			continue
		}
		if !out.cancelled {
			// paid or moved on since the select
			continue
		}

		cancelled++
		metrics.SweptOrdersTotal.Inc()
		if out.failedAttempt != "" {
			s.checks.Resolve(out.failedAttempt)
		}
		s.notifier.Send(ctx, notify.Event{
			Kind:    notify.OrderCancelled,
			UserID:  order.UserID,
			OrderID: order.ID,
			Message: "Order cancelled: " + sweepReason,
		})
	}

	return cancelled, errs
}

func (s *TimeoutSweeper) sweepOrder(ctx context.Context, order *model.Order) (cancelOutcome, error) {
	var out cancelOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.orderRepo.FindByID(ctx, tx, order.ID)
		if err != nil {
			return errors.Wrap(err, "reload order")
		}
		if current.Status != model.OrderStatusPlaced || current.PaymentStatus == model.PaymentStatusPaid {
			return nil
		}
		out, err = s.cancel.cancel(ctx, tx, current, sweepReason, expiryReason, s.settings.Now())
		return err
	})
	return out, err
}
