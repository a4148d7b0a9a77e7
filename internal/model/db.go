package model

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&Dish{},
		&DishIngredient{},
		&IngredientUsage{},
		&CartItem{},
		&Address{},
		&Voucher{},
		&Order{},
		&OrderItem{},
		&Reservation{},
		&Payment{},
		&LoyaltyTransaction{},
		&GatewayCallback{},
	}
}
