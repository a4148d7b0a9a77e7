package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Dish struct {
	ID          string          `gorm:"primaryKey;size:36;not null"`
	Name        string          `gorm:"size:255;not null"`
	Price       decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Stock       int             `gorm:"not null"`
	SoldCount   int             `gorm:"not null;default:0"`
	OrderCount  int             `gorm:"not null;default:0"`
	IsAvailable bool            `gorm:"not null"`

	Ingredients []DishIngredient `gorm:"foreignKey:DishID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DishIngredient is one recipe line: Quantity of an ingredient per portion.
type DishIngredient struct {
	ID           uint            `gorm:"primaryKey"`
	DishID       string          `gorm:"size:36;index;not null"`
	IngredientID string          `gorm:"size:36;not null"`
	Quantity     decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Unit         string          `gorm:"size:16"`
}

type IngredientUsage struct {
	ID           uint            `gorm:"primaryKey"`
	OrderID      string          `gorm:"size:36;index;not null"`
	DishID       string          `gorm:"size:36;not null"`
	IngredientID string          `gorm:"size:36;index;not null"`
	Quantity     decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Unit         string          `gorm:"size:16"`
	CreatedAt    time.Time
}

type CartItem struct {
	UserID    string `gorm:"primaryKey;size:64"`
	DishID    string `gorm:"primaryKey;size:36"`
	Quantity  int    `gorm:"not null"`
	Note      string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Voucher struct {
	ID         string          `gorm:"primaryKey;size:36;not null"`
	Code       string          `gorm:"size:64;uniqueIndex;not null"`
	Discount   decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	ValidFrom  *time.Time
	ValidUntil *time.Time
	MaxUses    int  `gorm:"not null;default:0"` // 0 = unlimited
	Uses       int  `gorm:"not null;default:0"`
	Active     bool `gorm:"not null"`
	CreatedAt  time.Time
}

type LoyaltyType string

const (
	LoyaltyEarn   LoyaltyType = "EARN"
	LoyaltyRedeem LoyaltyType = "REDEEM"
)

type LoyaltyTransaction struct {
	ID        uint        `gorm:"primaryKey"`
	UserID    string      `gorm:"size:64;index;not null"`
	OrderID   string      `gorm:"size:36;not null;uniqueIndex:idx_loyalty_order_type"`
	Type      LoyaltyType `gorm:"size:16;not null;uniqueIndex:idx_loyalty_order_type"`
	Points    int64       `gorm:"not null"`
	CreatedAt time.Time
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

type Reservation struct {
	ID            string            `gorm:"primaryKey;size:36;not null"`
	UserID        string            `gorm:"size:64;index;not null"`
	Guests        int               `gorm:"not null"`
	ReservedFor   time.Time         `gorm:"not null"`
	Deposit       decimal.Decimal   `gorm:"type:decimal(15,2);not null"`
	Status        ReservationStatus `gorm:"size:16;not null"`
	PaymentStatus PaymentStatus     `gorm:"size:16;not null"`
	PaymentMethod PaymentMethod     `gorm:"size:16"`
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
