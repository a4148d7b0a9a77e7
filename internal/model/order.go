package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "DELIVERY"
	DeliveryTypePickup   DeliveryType = "PICKUP"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodVNPay        PaymentMethod = "VNPAY"
	PaymentMethodMoMo         PaymentMethod = "MOMO"
	PaymentMethodPaypal       PaymentMethod = "PAYPAL"
	PaymentMethodBraintree    PaymentMethod = "BRAINTREE"
)

var OnlinePaymentMethods = []PaymentMethod{
	PaymentMethodVNPay,
	PaymentMethodMoMo,
	PaymentMethodPaypal,
	PaymentMethodBraintree,
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer:
		return true
	}
	return m.IsOnline()
}

func (m PaymentMethod) IsOnline() bool {
	for _, online := range OnlinePaymentMethods {
		if m == online {
			return true
		}
	}
	return false
}

// CodePrefix is the provider part of a transaction code.
func (m PaymentMethod) CodePrefix() string {
	switch m {
	case PaymentMethodBankTransfer:
		return "BANK"
	case PaymentMethodBraintree:
		return "BT"
	}
	return string(m)
}

type Order struct {
	ID            string       `gorm:"primaryKey;size:36;not null"`
	UserID        string       `gorm:"size:64;index;not null"`
	DeliveryType  DeliveryType `gorm:"size:16;not null"`
	AddressID     *string      `gorm:"size:36"`
	ReceiverName  string       `gorm:"size:128"`
	ReceiverPhone string       `gorm:"size:32"`
	DeliveryTime  *time.Time   // nil = ASAP
	Note          string       `gorm:"size:512"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`

	ItemsSubtotal decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	VAT           decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	ShippingFee   decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Discount      decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Total         decimal.Decimal `gorm:"type:decimal(15,2);not null"`

	Status        OrderStatus   `gorm:"size:32;index;not null"`
	PaymentStatus PaymentStatus `gorm:"size:16;index;not null"`
	PaymentMethod PaymentMethod `gorm:"size:16;index;not null"`
	VoucherID     *string       `gorm:"size:36"`

	CancelReason      string `gorm:"size:255"`
	ReturnReason      string `gorm:"size:255"`
	CancelledAt       *time.Time
	ReturnRequestedAt *time.Time
	DeliveredAt       *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

type OrderItem struct {
	ID uint `gorm:"primaryKey"`
	// FK → orders.id
	OrderID string `gorm:"size:36;index;not null"`
	// FK → dishes.id
	DishID    string          `gorm:"size:36;index;not null"`
	DishName  string          `gorm:"size:255;not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Quantity  int             `gorm:"not null"`
	LineTotal decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Note      string          `gorm:"size:255"`

	CreatedAt time.Time
}

type Address struct {
	ID           string `gorm:"primaryKey;size:36;not null"`
	UserID       string `gorm:"size:64;index;not null"`
	ReceiverName string `gorm:"size:128"`
	Phone        string `gorm:"size:32"`
	Street       string `gorm:"size:255;not null"`
	Ward         string `gorm:"size:128"`
	District     string `gorm:"size:128"`
	City         string `gorm:"size:128;not null"`
	CreatedAt    time.Time
}
