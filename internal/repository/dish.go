package repository

import (
	"context"
	"order-payment-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DishRepository interface {
	Seed(ctx context.Context, dishes []*model.Dish) error
	FindByID(ctx context.Context, tx *gorm.DB, dishID string) (*model.Dish, error)
	// DecrementStock takes qty off the dish stock and bumps the sale counters.
	// It reports false when the dish does not have qty left.
	DecrementStock(ctx context.Context, tx *gorm.DB, dishID string, qty int) (bool, error)
	RestoreStock(ctx context.Context, tx *gorm.DB, dishID string, qty int) error
	CreateUsages(ctx context.Context, tx *gorm.DB, usages []*model.IngredientUsage) error
}

type dishRepoImpl struct {
	db *gorm.DB
}

func NewDishRepository(db *gorm.DB) DishRepository {
	return &dishRepoImpl{
		db: db,
	}
}

func (r *dishRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *dishRepoImpl) Seed(ctx context.Context, dishes []*model.Dish) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(dishes).Error
}

func (r *dishRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, dishID string) (*model.Dish, error) {
	var dish model.Dish
	err := r.conn(tx).WithContext(ctx).
		Preload("Ingredients").
		Where("id = ?", dishID).
		First(&dish).Error

	if err != nil {
		return nil, err
	}

	return &dish, nil
}

func (r *dishRepoImpl) DecrementStock(ctx context.Context, tx *gorm.DB, dishID string, qty int) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Dish{}).
		Where("id = ? AND stock >= ?", dishID, qty).
		Updates(map[string]interface{}{
			"stock":       gorm.Expr("stock - ?", qty),
			"sold_count":  gorm.Expr("sold_count + ?", qty),
			"order_count": gorm.Expr("order_count + ?", 1),
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *dishRepoImpl) RestoreStock(ctx context.Context, tx *gorm.DB, dishID string, qty int) error {
	return tx.WithContext(ctx).Model(&model.Dish{}).
		Where("id = ?", dishID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", qty),
			"sold_count": gorm.Expr("sold_count - ?", qty),
		}).Error
}

func (r *dishRepoImpl) CreateUsages(ctx context.Context, tx *gorm.DB, usages []*model.IngredientUsage) error {
	if len(usages) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(usages).Error
}
