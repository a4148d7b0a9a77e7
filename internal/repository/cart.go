package repository

import (
	"context"
	"order-payment-service/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, item *model.CartItem) error
	List(ctx context.Context, userID string) ([]*model.CartItem, error)
	RemoveDishes(ctx context.Context, tx *gorm.DB, userID string, dishIDs []string) error
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{
		db: db,
	}
}

// Upsert adds quantity onto an existing cart line or creates it.
func (r *cartRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, item *model.CartItem) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "dish_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("cart_items.quantity + ?", item.Quantity),
			"updated_at": time.Now(),
		}),
	}).Create(item).Error
}

func (r *cartRepoImpl) List(ctx context.Context, userID string) ([]*model.CartItem, error) {
	var items []*model.CartItem

	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *cartRepoImpl) RemoveDishes(ctx context.Context, tx *gorm.DB, userID string, dishIDs []string) error {
	return tx.WithContext(ctx).
		Where("user_id = ? AND dish_id IN ?", userID, dishIDs).
		Delete(&model.CartItem{}).Error
}
