package repository

import (
	"context"
	"order-payment-service/internal/model"

	"gorm.io/gorm"
)

type GatewayCallbackRepository interface {
	Record(ctx context.Context, callback *model.GatewayCallback) error
	ListByOutcome(ctx context.Context, outcome model.CallbackOutcome) ([]*model.GatewayCallback, error)
}

type gatewayCallbackRepositoryImpl struct {
	db *gorm.DB
}

func NewGatewayCallbackRepository(db *gorm.DB) GatewayCallbackRepository {
	return &gatewayCallbackRepositoryImpl{db: db}
}

// Record writes outside any reconciliation transaction so rejected callbacks
// are kept even when that transaction rolls back.
func (r *gatewayCallbackRepositoryImpl) Record(ctx context.Context, callback *model.GatewayCallback) error {
	return r.db.WithContext(ctx).Create(callback).Error
}

// ListByOutcome lists every callback when outcome is empty.
func (r *gatewayCallbackRepositoryImpl) ListByOutcome(ctx context.Context, outcome model.CallbackOutcome) ([]*model.GatewayCallback, error) {
	var callbacks []*model.GatewayCallback
	q := r.db.WithContext(ctx)
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	err := q.Order("id").Find(&callbacks).Error
	if err != nil {
		return nil, err
	}
	return callbacks, nil
}
