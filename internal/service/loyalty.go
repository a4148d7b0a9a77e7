package service

import (
	"order-payment-service/internal/model"

	"github.com/shopspring/decimal"
)

// LoyaltyPolicy decides how many points a delivered order earns.
type LoyaltyPolicy interface {
	EarnPoints(order *model.Order) int64
}

// FlatRatePolicy awards one point per AmountPerPoint of order total.
type FlatRatePolicy struct {
	AmountPerPoint decimal.Decimal
}

func NewFlatRatePolicy(amountPerPoint int64) FlatRatePolicy {
	return FlatRatePolicy{AmountPerPoint: decimal.NewFromInt(amountPerPoint)}
}

func (p FlatRatePolicy) EarnPoints(order *model.Order) int64 {
	if !p.AmountPerPoint.IsPositive() {
		return 0
	}
	return order.Total.Div(p.AmountPerPoint).Floor().IntPart()
}
