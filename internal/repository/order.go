package repository

import (
	"context"
	"order-payment-service/internal/model"
	"time"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	GetOrderItems(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.OrderItem, error)
	// TransitionStatus moves the order from -> to only if it is still in from.
	TransitionStatus(ctx context.Context, tx *gorm.DB, orderID string, from, to model.OrderStatus, fields map[string]interface{}) (bool, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID string, paidAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	// SwitchPaymentMethod resets payment_status to UNPAID with a new method, guarded
	// on the status pair the caller read before deciding.
	SwitchPaymentMethod(ctx context.Context, tx *gorm.DB, orderID string, readStatus model.OrderStatus, readPayment model.PaymentStatus, method model.PaymentMethod) (bool, error)
	FindStaleUnpaid(ctx context.Context, methods []model.PaymentMethod, cutoff time.Time) ([]*model.Order, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	return tx.WithContext(ctx).Create(items).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.conn(tx).WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) GetOrderItems(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.conn(tx).WithContext(ctx).Where("order_id = ?", orderID).
		Order("id").
		Find(&items).Error

	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *orderRepoImpl) TransitionStatus(ctx context.Context, tx *gorm.DB, orderID string, from, to model.OrderStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *orderRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, orderID string, paidAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, model.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status": model.PaymentStatusPaid,
			"paid_at":        paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *orderRepoImpl) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status = ?", orderID, model.PaymentStatusUnpaid).
		Update("payment_status", model.PaymentStatusFailed)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *orderRepoImpl) SwitchPaymentMethod(ctx context.Context, tx *gorm.DB, orderID string, readStatus model.OrderStatus, readPayment model.PaymentStatus, method model.PaymentMethod) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			id = ?
			AND status = ?
			AND payment_status = ?
		`,
			orderID,
			readStatus,
			readPayment,
		).
		Updates(map[string]interface{}{
			"payment_method": method,
			"payment_status": model.PaymentStatusUnpaid,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *orderRepoImpl) FindStaleUnpaid(ctx context.Context, methods []model.PaymentMethod, cutoff time.Time) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where(`
			payment_method IN ?
			AND payment_status IN ?
			AND status = ?
			AND created_at <= ?
		`,
			methods,
			[]model.PaymentStatus{model.PaymentStatusUnpaid, model.PaymentStatusFailed},
			model.OrderStatusPlaced,
			cutoff,
		).
		Order("created_at").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}
