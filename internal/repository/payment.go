package repository

import (
	"context"
	"order-payment-service/internal/model"
	"time"

	"gorm.io/gorm"
)

var openPaymentStatuses = []model.PaymentStatus{model.PaymentStatusUnpaid, model.PaymentStatusPending}

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	FindByID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error)
	FindLatest(ctx context.Context, tx *gorm.DB, subject model.PaymentSubject) (*model.Payment, error)
	ListBySubject(ctx context.Context, subject model.PaymentSubject) ([]*model.Payment, error)
	MarkPending(ctx context.Context, tx *gorm.DB, paymentID, providerRef string) (bool, error)
	// MarkPaid succeeds at most once per attempt.
	MarkPaid(ctx context.Context, tx *gorm.DB, paymentID, providerRef string, confirmedBy *string, paidAt time.Time) (bool, error)
	// MarkFailed only touches attempts that are still UNPAID or PENDING.
	MarkFailed(ctx context.Context, tx *gorm.DB, paymentID, reason string) (bool, error)
	ChangeMethod(ctx context.Context, tx *gorm.DB, paymentID string, method model.PaymentMethod, transactionCode string) (bool, error)
	SetBankingQR(ctx context.Context, tx *gorm.DB, paymentID, payload string) error
}

type paymentRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepositoryImpl{
		db: db,
	}
}

func (r *paymentRepositoryImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *paymentRepositoryImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return r.conn(tx).WithContext(ctx).Create(payment).Error
}

func (r *paymentRepositoryImpl) FindByID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", paymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepositoryImpl) FindLatest(ctx context.Context, tx *gorm.DB, subject model.PaymentSubject) (*model.Payment, error) {
	var payment model.Payment
	err := r.conn(tx).WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Kind(), subject.ID()).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepositoryImpl) ListBySubject(ctx context.Context, subject model.PaymentSubject) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Kind(), subject.ID()).
		Order("created_at").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepositoryImpl) MarkPending(ctx context.Context, tx *gorm.DB, paymentID, providerRef string) (bool, error) {
	result := r.conn(tx).WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusUnpaid).
		Updates(map[string]interface{}{
			"status":       model.PaymentStatusPending,
			"provider_ref": providerRef,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *paymentRepositoryImpl) MarkPaid(ctx context.Context, tx *gorm.DB, paymentID, providerRef string, confirmedBy *string, paidAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":         model.PaymentStatusPaid,
		"paid_at":        paidAt,
		"failure_reason": "",
	}
	if providerRef != "" {
		updates["provider_ref"] = providerRef
	}
	if confirmedBy != nil {
		updates["confirmed_by"] = *confirmedBy
	}

	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status NOT IN ?", paymentID,
			[]model.PaymentStatus{model.PaymentStatusPaid, model.PaymentStatusRefunded}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *paymentRepositoryImpl) MarkFailed(ctx context.Context, tx *gorm.DB, paymentID, reason string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status IN ?", paymentID, openPaymentStatuses).
		Updates(map[string]interface{}{
			"status":         model.PaymentStatusFailed,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *paymentRepositoryImpl) ChangeMethod(ctx context.Context, tx *gorm.DB, paymentID string, method model.PaymentMethod, transactionCode string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status IN ?", paymentID, openPaymentStatuses).
		Updates(map[string]interface{}{
			"method":           method,
			"transaction_code": transactionCode,
			"status":           model.PaymentStatusUnpaid,
			"provider_ref":     "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *paymentRepositoryImpl) SetBankingQR(ctx context.Context, tx *gorm.DB, paymentID, payload string) error {
	return r.conn(tx).WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", paymentID).
		Update("banking_qr", payload).Error
}
