package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payment-service/internal/model"
	"order-payment-service/internal/notify"
)

func TestPlaceOrder_Totals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.cartRepo.Upsert(ctx, h.db, &model.CartItem{UserID: "u1", DishID: "pho", Quantity: 2}))
	require.NoError(t, h.cartRepo.Upsert(ctx, h.db, &model.CartItem{UserID: "u1", DishID: "sold-out", Quantity: 1}))

	res := h.place(t, standardOrder("u1", model.PaymentMethodCash))

	order := h.order(t, res.Order.ID)
	assertAmount(t, 250000, order.ItemsSubtotal)
	assertAmount(t, 20000, order.VAT)
	assertAmount(t, 20000, order.ShippingFee)
	assertAmount(t, 0, order.Discount)
	assertAmount(t, 290000, order.Total)
	assert.Equal(t, model.OrderStatusPlaced, order.Status)
	assert.Equal(t, model.PaymentStatusUnpaid, order.PaymentStatus)
	require.NotNil(t, order.AddressID)
	assert.Equal(t, "Nguyen Van A", order.ReceiverName)
	require.Len(t, order.Items, 2)

	assert.Equal(t, 8, h.dish(t, "pho").Stock)
	assert.Equal(t, 9, h.dish(t, "tra-da").Stock)

	cart, err := h.cartRepo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart, 1, "only ordered dishes leave the cart")
	assert.Equal(t, "sold-out", cart[0].DishID)

	var usages []model.IngredientUsage
	require.NoError(t, h.db.Where("order_id = ?", order.ID).Order("ingredient_id").Find(&usages).Error)
	require.Len(t, usages, 2)
	assert.Equal(t, "beef", usages[0].IngredientID)
	assert.True(t, decimal.NewFromFloat(0.3).Equal(usages[0].Quantity))

	require.NotNil(t, res.Payment)
	assert.Equal(t, DispatchCash, res.Payment.Type)
	assertAmount(t, 290000, res.Payment.Total)
	assert.Nil(t, res.Payment.RedirectURL)

	assert.Equal(t, []notify.Kind{notify.OrderPlaced}, h.sink.kinds())
}

func TestPlaceOrder_VoucherFloorsTotalAtZero(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&model.Voucher{
		ID: "v-big", Code: "FREE", Discount: decimal.NewFromInt(500000), MaxUses: 1, Active: true,
	}).Error)

	in := standardOrder("u1", model.PaymentMethodCash)
	voucherID := "v-big"
	in.VoucherID = &voucherID
	res := h.place(t, in)

	order := h.order(t, res.Order.ID)
	assertAmount(t, 500000, order.Discount)
	assertAmount(t, 0, order.Total)
	require.NotNil(t, order.VoucherID)

	var voucher model.Voucher
	require.NoError(t, h.db.First(&voucher, "id = ?", "v-big").Error)
	assert.Equal(t, 1, voucher.Uses)

	_, err := h.orders.PlaceOrder(context.Background(), in)
	require.ErrorIs(t, err, ErrVoucherUsedUp)
}

func TestPlaceOrder_InsufficientStockRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cartRepo.Upsert(ctx, h.db, &model.CartItem{UserID: "u1", DishID: "pho", Quantity: 2}))

	in := standardOrder("u1", model.PaymentMethodCash)
	in.Items = append(in.Items, OrderItemInput{DishID: "sold-out", Quantity: 1})

	_, err := h.orders.PlaceOrder(ctx, in)
	require.Error(t, err)

	var abortErr *TxAbortError
	require.ErrorAs(t, err, &abortErr)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "sold-out", stockErr.DishID)
	assert.True(t, IsClientError(err))

	assert.Equal(t, 10, h.dish(t, "pho").Stock, "earlier lines are rolled back")
	assert.Equal(t, 0, h.dish(t, "pho").SoldCount)

	var orders, addresses int64
	require.NoError(t, h.db.Model(&model.Order{}).Count(&orders).Error)
	require.NoError(t, h.db.Model(&model.Address{}).Count(&addresses).Error)
	assert.Zero(t, orders)
	assert.Zero(t, addresses)

	cart, err := h.cartRepo.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart, 1)
	assert.Empty(t, h.sink.events)
}

func TestPlaceOrder_Validation(t *testing.T) {
	h := newHarness(t)
	past := time.Now().Add(-time.Hour)
	addressID := "addr-1"

	tests := []struct {
		name   string
		mutate func(in *PlaceOrderInput)
		field  string
	}{
		{"no items", func(in *PlaceOrderInput) { in.Items = nil }, "items"},
		{"zero quantity", func(in *PlaceOrderInput) { in.Items[0].Quantity = 0 }, "items"},
		{"duplicate dish", func(in *PlaceOrderInput) { in.Items[1].DishID = "pho" }, "items"},
		{"delivery without address", func(in *PlaceOrderInput) { in.Address = nil }, "address"},
		{"both addresses", func(in *PlaceOrderInput) { in.AddressID = &addressID }, "address"},
		{"past delivery time", func(in *PlaceOrderInput) { in.DeliveryTime = &past }, "delivery_time"},
		{"unknown method", func(in *PlaceOrderInput) { in.PaymentMethod = "BITCOIN" }, "payment_method"},
		{"unknown delivery type", func(in *PlaceOrderInput) { in.DeliveryType = "DRONE" }, "delivery_type"},
		{"unavailable dish", func(in *PlaceOrderInput) { in.Items[1].DishID = "hidden" }, "items"},
		{"unknown dish", func(in *PlaceOrderInput) { in.Items[1].DishID = "nope" }, "items"},
		{"foreign address", func(in *PlaceOrderInput) { in.Address = nil; in.AddressID = &addressID }, "address_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := standardOrder("u1", model.PaymentMethodCash)
			tt.mutate(&in)

			_, err := h.orders.PlaceOrder(context.Background(), in)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)
			assert.True(t, IsClientError(err))
		})
	}

	assert.Equal(t, 10, h.dish(t, "pho").Stock)
}

func TestPlaceOrder_PickupHasNoShipping(t *testing.T) {
	h := newHarness(t)

	in := standardOrder("u1", model.PaymentMethodCash)
	in.DeliveryType = model.DeliveryTypePickup
	res := h.place(t, in)

	order := h.order(t, res.Order.ID)
	assert.Nil(t, order.AddressID)
	assertAmount(t, 0, order.ShippingFee)
	assertAmount(t, 270000, order.Total)
}

func TestPlaceOrder_ExistingAddress(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&model.Address{
		ID: "addr-1", UserID: "u1", ReceiverName: "Tran B", Phone: "0911", Street: "1 Hang Bai", City: "Ha Noi",
	}).Error)

	in := standardOrder("u1", model.PaymentMethodCash)
	in.Address = nil
	id := "addr-1"
	in.AddressID = &id
	res := h.place(t, in)

	order := h.order(t, res.Order.ID)
	require.NotNil(t, order.AddressID)
	assert.Equal(t, "addr-1", *order.AddressID)
	assert.Equal(t, "Tran B", order.ReceiverName)
}

func TestPlaceOrder_BankTransferInstructions(t *testing.T) {
	h := newHarness(t)

	res := h.place(t, standardOrder("u1", model.PaymentMethodBankTransfer))
	require.NotNil(t, res.Payment)
	assert.Equal(t, DispatchBankTransfer, res.Payment.Type)
	require.NotNil(t, res.Payment.BankingInfo)
	assert.Regexp(t, `^BANK-\d{8}-[0-9A-F]{6}$`, res.Payment.TransactionCode)
	assert.Contains(t, res.Payment.BankingInfo.QRPayload, res.Payment.TransactionCode)

	attempt := h.attempt(t, res.Payment.AttemptID)
	assert.Equal(t, model.PaymentStatusUnpaid, attempt.Status)
	assert.Equal(t, res.Payment.BankingInfo.QRPayload, attempt.BankingQR)
}

func TestPlaceOrder_OnlineRedirect(t *testing.T) {
	h := newHarness(t)

	res := h.place(t, standardOrder("u1", model.PaymentMethodVNPay))
	require.NotNil(t, res.Payment)
	assert.Equal(t, DispatchRedirect, res.Payment.Type)
	require.NotNil(t, res.Payment.RedirectURL)
	assert.Contains(t, *res.Payment.RedirectURL, "https://pay.example/O")

	attempt := h.attempt(t, res.Payment.AttemptID)
	assert.Equal(t, model.PaymentStatusPending, attempt.Status)
	assert.Equal(t, "ref-"+attempt.ID, attempt.ProviderRef)
	assert.Equal(t, 1, h.checks.Pending())
}

func TestPlaceOrder_DispatchFailureKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.adapters[model.PaymentMethodMoMo].err = errors.New("connection refused")

	res := h.place(t, standardOrder("u1", model.PaymentMethodMoMo))
	assert.Nil(t, res.Payment)
	assert.Contains(t, res.DispatchError, "connection refused")

	order := h.order(t, res.Order.ID)
	assert.Equal(t, model.OrderStatusPlaced, order.Status)

	attempts := h.attempts(t, order.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.PaymentStatusUnpaid, attempts[0].Status)
	assert.Zero(t, h.checks.Pending())
}

func TestUpdateOrderStatus_Graph(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, standardOrder("u1", model.PaymentMethodCash))

	_, err := h.orders.UpdateOrderStatus(ctx, staff, res.Order.ID, model.OrderStatusInTransit, "")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.EqualError(t, err, "invalid order status transition from ORDER_PLACED to IN_TRANSIT")

	_, err = h.orders.UpdateOrderStatus(ctx, Actor{UserID: "u1"}, res.Order.ID, model.OrderStatusConfirmed, "")
	require.ErrorIs(t, err, ErrForbidden)

	for _, next := range []model.OrderStatus{model.OrderStatusConfirmed, model.OrderStatusPendingPickup, model.OrderStatusInTransit} {
		_, err = h.orders.UpdateOrderStatus(ctx, staff, res.Order.ID, next, "")
		require.NoError(t, err)
	}

	_, err = h.orders.UpdateOrderStatus(ctx, staff, res.Order.ID, model.OrderStatusDelivered, "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation, "unpaid orders cannot be delivered")
	assert.Equal(t, model.OrderStatusInTransit, h.order(t, res.Order.ID).Status)

	_, err = h.payments.ConfirmManual(ctx, staff, res.Payment.AttemptID, decimal.NewFromInt(290000), "CASH-RECEIPT-1")
	require.NoError(t, err)

	delivered, err := h.orders.UpdateOrderStatus(ctx, staff, res.Order.ID, model.OrderStatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	balance, err := h.loyaltyRepo.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(29), balance)

	_, err = h.orders.UpdateOrderStatus(ctx, staff, res.Order.ID, model.OrderStatusDelivered, "")
	require.ErrorAs(t, err, &transition)

	balance, err = h.loyaltyRepo.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(29), balance, "points are earned once")
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orders.UpdateOrderStatus(context.Background(), staff, uuid.NewString(), model.OrderStatusConfirmed, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, standardOrder("u1", model.PaymentMethodVNPay))

	_, err := h.orders.CancelOrder(ctx, Actor{UserID: "u2"}, res.Order.ID, "changed my mind")
	require.ErrorIs(t, err, ErrForbidden)

	cancelled, err := h.orders.CancelOrder(ctx, Actor{UserID: "u1"}, res.Order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 10, h.dish(t, "pho").Stock)
	assert.Equal(t, 10, h.dish(t, "tra-da").Stock)

	attempt := h.attempt(t, res.Payment.AttemptID)
	assert.Equal(t, model.PaymentStatusFailed, attempt.Status)
	assert.Equal(t, "changed my mind", attempt.FailureReason)

	_, err = h.orders.CancelOrder(ctx, Actor{UserID: "u1"}, res.Order.ID, "again")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, 10, h.dish(t, "pho").Stock, "stock is restored once")
}

func TestCancelOrder_ThroughStatusUpdate(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, standardOrder("u1", model.PaymentMethodCash))

	cancelled, err := h.orders.UpdateOrderStatus(context.Background(), staff, res.Order.ID, model.OrderStatusCancelled, "kitchen closed")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "kitchen closed", cancelled.CancelReason)
	assert.Equal(t, 10, h.dish(t, "pho").Stock)
}

func TestRequestReturn_Window(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr bool
	}{
		{"inside window", 29 * time.Minute, false},
		{"at the edge", 30 * time.Minute, false},
		{"too late", 31 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			res := h.place(t, standardOrder("u1", model.PaymentMethodCash))
			_, err := h.payments.ConfirmManual(ctx, staff, res.Payment.AttemptID, decimal.NewFromInt(290000), "")
			require.NoError(t, err)
			h.deliver(t, res.Order.ID)

			h.advance(tt.elapsed)
			_, err = h.orders.RequestReturn(ctx, Actor{UserID: "u2"}, res.Order.ID, "cold")
			require.ErrorIs(t, err, ErrForbidden)

			order, err := h.orders.RequestReturn(ctx, Actor{UserID: "u1"}, res.Order.ID, "cold")
			if tt.wantErr {
				var validation *ValidationError
				require.ErrorAs(t, err, &validation)
				assert.Equal(t, model.OrderStatusDelivered, h.order(t, res.Order.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.OrderStatusReturnRequested, order.Status)
			assert.Equal(t, "cold", order.ReturnReason)
			require.NotNil(t, order.ReturnRequestedAt)
		})
	}
}

func TestRequestReturn_OnlyFromDelivered(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, standardOrder("u1", model.PaymentMethodCash))

	_, err := h.orders.RequestReturn(context.Background(), Actor{UserID: "u1"}, res.Order.ID, "cold")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
}

func TestGetOrder_Ownership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, standardOrder("u1", model.PaymentMethodCash))

	_, err := h.orders.GetOrder(ctx, Actor{UserID: "u1"}, res.Order.ID)
	require.NoError(t, err)
	_, err = h.orders.GetOrder(ctx, staff, res.Order.ID)
	require.NoError(t, err)
	_, err = h.orders.GetOrder(ctx, Actor{UserID: "u2"}, res.Order.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = h.orders.GetOrder(ctx, Actor{UserID: "u1"}, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}
