package repository

import (
	"context"
	"order-payment-service/internal/model"
	"time"

	"gorm.io/gorm"
)

type ReservationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, reservation *model.Reservation) error
	FindByID(ctx context.Context, tx *gorm.DB, reservationID string) (*model.Reservation, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, reservationID string, paidAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, reservationID string) (bool, error)
}

type reservationRepoImpl struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepoImpl{db: db}
}

func (r *reservationRepoImpl) Create(ctx context.Context, tx *gorm.DB, reservation *model.Reservation) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(reservation).Error
}

func (r *reservationRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, reservationID string) (*model.Reservation, error) {
	if tx == nil {
		tx = r.db
	}
	var reservation model.Reservation
	err := tx.WithContext(ctx).Where("id = ?", reservationID).First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// MarkPaid also confirms a pending reservation once its deposit is in.
func (r *reservationRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, reservationID string, paidAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND payment_status <> ?", reservationID, model.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status": model.PaymentStatusPaid,
			"paid_at":        paidAt,
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				model.ReservationPending, model.ReservationConfirmed),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *reservationRepoImpl) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, reservationID string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND payment_status = ?", reservationID, model.PaymentStatusUnpaid).
		Update("payment_status", model.PaymentStatusFailed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
