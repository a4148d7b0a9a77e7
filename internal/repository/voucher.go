package repository

import (
	"context"
	"order-payment-service/internal/model"

	"gorm.io/gorm"
)

type VoucherRepository interface {
	FindByID(ctx context.Context, voucherID string) (*model.Voucher, error)
	// IncrementUses consumes one use, reporting false when the voucher is used up.
	IncrementUses(ctx context.Context, tx *gorm.DB, voucherID string) (bool, error)
}

type voucherRepoImpl struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) VoucherRepository {
	return &voucherRepoImpl{db: db}
}

func (r *voucherRepoImpl) FindByID(ctx context.Context, voucherID string) (*model.Voucher, error) {
	var voucher model.Voucher
	err := r.db.WithContext(ctx).Where("id = ?", voucherID).First(&voucher).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *voucherRepoImpl) IncrementUses(ctx context.Context, tx *gorm.DB, voucherID string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Voucher{}).
		Where("id = ? AND (max_uses = 0 OR uses < max_uses)", voucherID).
		Update("uses", gorm.Expr("uses + ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
