package repository

import (
	"context"
	"order-payment-service/internal/model"

	"gorm.io/gorm"
)

type AddressRepository interface {
	Create(ctx context.Context, tx *gorm.DB, address *model.Address) error
	FindOwned(ctx context.Context, tx *gorm.DB, userID, addressID string) (*model.Address, error)
}

type addressRepoImpl struct {
	db *gorm.DB
}

func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepoImpl{db: db}
}

func (r *addressRepoImpl) Create(ctx context.Context, tx *gorm.DB, address *model.Address) error {
	return tx.WithContext(ctx).Create(address).Error
}

func (r *addressRepoImpl) FindOwned(ctx context.Context, tx *gorm.DB, userID, addressID string) (*model.Address, error) {
	var address model.Address
	err := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}
