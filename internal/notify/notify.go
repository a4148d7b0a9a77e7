// Package notify delivers customer-facing side effects (push, email). Every
// delivery is best-effort: a failure is logged and never fails the caller.
package notify

import (
	"context"

	"go.uber.org/zap"
)

type Kind string

const (
	OrderPlaced      Kind = "order_placed"
	PaymentSucceeded Kind = "payment_succeeded"
	PaymentFailed    Kind = "payment_failed"
	OrderCancelled   Kind = "order_cancelled"
	OrderStatus      Kind = "order_status"
)

type Event struct {
	Kind    Kind
	UserID  string
	OrderID string
	Message string
	Data    map[string]string
}

type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log. It is the default sink when
// no push or mail transport is configured.
type LogSink struct {
	lg *zap.Logger
}

func NewLogSink(lg *zap.Logger) *LogSink {
	return &LogSink{lg: lg}
}

func (s *LogSink) Notify(_ context.Context, event Event) error {
	s.lg.Info("Notification",
		zap.String("kind", string(event.Kind)),
		zap.String("user_id", event.UserID),
		zap.String("order_id", event.OrderID),
		zap.String("message", event.Message),
	)
	return nil
}

// BestEffort wraps a sink so that it never returns an error or panics into
// the caller.
type BestEffort struct {
	sink Sink
	lg   *zap.Logger
}

func NewBestEffort(sink Sink, lg *zap.Logger) *BestEffort {
	return &BestEffort{sink: sink, lg: lg}
}

func (b *BestEffort) Send(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.lg.Error("Notification sink panicked",
				zap.String("kind", string(event.Kind)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := b.sink.Notify(ctx, event); err != nil {
		b.lg.Warn("Notification failed",
			zap.String("kind", string(event.Kind)),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
