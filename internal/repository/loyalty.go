package repository

import (
	"context"
	"order-payment-service/internal/model"

	"gorm.io/gorm"
)

type LoyaltyRepository interface {
	HasEarnEntry(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	Create(ctx context.Context, tx *gorm.DB, entry *model.LoyaltyTransaction) error
	Balance(ctx context.Context, userID string) (int64, error)
}

type loyaltyRepoImpl struct {
	db *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) LoyaltyRepository {
	return &loyaltyRepoImpl{db: db}
}

func (r *loyaltyRepoImpl) HasEarnEntry(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.LoyaltyTransaction{}).
		Where("order_id = ? AND type = ?", orderID, model.LoyaltyEarn).
		Count(&count).Error

	return count > 0, err
}

func (r *loyaltyRepoImpl) Create(ctx context.Context, tx *gorm.DB, entry *model.LoyaltyTransaction) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *loyaltyRepoImpl) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Model(&model.LoyaltyTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN points ELSE -points END), 0)", model.LoyaltyEarn).
		Where("user_id = ?", userID).
		Scan(&balance).Error

	return balance, err
}
