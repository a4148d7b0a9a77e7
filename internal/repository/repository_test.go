package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"order-payment-service/internal/client"
	"order-payment-service/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := client.InitSqliteClient("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, mutate func(o *model.Order)) *model.Order {
	t.Helper()
	o := &model.Order{
		ID:            uuid.NewString(),
		UserID:        "u1",
		DeliveryType:  model.DeliveryTypePickup,
		Total:         decimal.NewFromInt(100000),
		Status:        model.OrderStatusPlaced,
		PaymentStatus: model.PaymentStatusUnpaid,
		PaymentMethod: model.PaymentMethodVNPay,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func TestDishRepository_DecrementStock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewDishRepository(db)

	require.NoError(t, repo.Seed(ctx, []*model.Dish{
		{ID: "d1", Name: "Pho", Price: decimal.NewFromInt(50000), Stock: 3, IsAvailable: true},
	}))

	ok, err := repo.DecrementStock(ctx, db, "d1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementStock(ctx, db, "d1", 2)
	require.NoError(t, err)
	assert.False(t, ok, "only one portion left")

	dish, err := repo.FindByID(ctx, nil, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, dish.Stock)
	assert.Equal(t, 2, dish.SoldCount)
	assert.Equal(t, 1, dish.OrderCount)

	require.NoError(t, repo.RestoreStock(ctx, db, "d1", 2))
	dish, err = repo.FindByID(ctx, nil, "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, dish.Stock)
	assert.Equal(t, 0, dish.SoldCount)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCartRepository(db)

	require.NoError(t, repo.Upsert(ctx, db, &model.CartItem{UserID: "u1", DishID: "d1", Quantity: 1}))
	require.NoError(t, repo.Upsert(ctx, db, &model.CartItem{UserID: "u1", DishID: "d1", Quantity: 2}))
	require.NoError(t, repo.Upsert(ctx, db, &model.CartItem{UserID: "u1", DishID: "d2", Quantity: 1}))

	items, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		if it.DishID == "d1" {
			assert.Equal(t, 3, it.Quantity)
		}
	}

	require.NoError(t, repo.RemoveDishes(ctx, db, "u1", []string{"d1"}))
	items, err = repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "d2", items[0].DishID)
}

func TestOrderRepository_MarkPaidOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	o := seedOrder(t, db, nil)

	ok, err := repo.MarkPaid(ctx, db, o.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPaid(ctx, db, o.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkPaymentFailed(ctx, db, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "paid orders are never downgraded")

	got, err := repo.FindByID(ctx, nil, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.NotNil(t, got.PaidAt)
}

func TestOrderRepository_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	o := seedOrder(t, db, nil)

	ok, err := repo.TransitionStatus(ctx, db, o.ID, model.OrderStatusPlaced, model.OrderStatusCancelled,
		map[string]interface{}{"cancel_reason": "changed mind"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, db, o.ID, model.OrderStatusPlaced, model.OrderStatusConfirmed, nil)
	require.NoError(t, err)
	assert.False(t, ok, "stale from-status")

	got, err := repo.FindByID(ctx, nil, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, "changed mind", got.CancelReason)
}

func TestOrderRepository_SwitchPaymentMethod(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	o := seedOrder(t, db, func(o *model.Order) { o.PaymentStatus = model.PaymentStatusFailed })

	ok, err := repo.SwitchPaymentMethod(ctx, db, o.ID, model.OrderStatusPlaced, model.PaymentStatusUnpaid, model.PaymentMethodMoMo)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.SwitchPaymentMethod(ctx, db, o.ID, model.OrderStatusPlaced, model.PaymentStatusFailed, model.PaymentMethodMoMo)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.FindByID(ctx, nil, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentMethodMoMo, got.PaymentMethod)
	assert.Equal(t, model.PaymentStatusUnpaid, got.PaymentStatus)
}

func TestOrderRepository_FindStaleUnpaid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	now := time.Now().UTC()

	stale := seedOrder(t, db, func(o *model.Order) { o.CreatedAt = now.Add(-31 * time.Minute) })
	seedOrder(t, db, func(o *model.Order) { o.CreatedAt = now.Add(-10 * time.Minute) })
	seedOrder(t, db, func(o *model.Order) {
		o.CreatedAt = now.Add(-2 * time.Hour)
		o.PaymentMethod = model.PaymentMethodCash
	})
	seedOrder(t, db, func(o *model.Order) {
		o.CreatedAt = now.Add(-2 * time.Hour)
		o.Status = model.OrderStatusConfirmed
	})

	orders, err := repo.FindStaleUnpaid(ctx, model.OnlinePaymentMethods, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, stale.ID, orders[0].ID)
}

func TestPaymentRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	subject := model.OrderRef{OrderID: "o1"}

	first := model.NewPayment(uuid.NewString(), subject, model.PaymentMethodVNPay, decimal.NewFromInt(1000), time.Now())
	require.NoError(t, repo.Create(ctx, nil, first))
	ok, err := repo.MarkFailed(ctx, db, first.ID, "declined")
	require.NoError(t, err)
	assert.True(t, ok)

	second := model.NewPayment(uuid.NewString(), subject, model.PaymentMethodMoMo, decimal.NewFromInt(1000), time.Now())
	require.NoError(t, repo.Create(ctx, nil, second))

	latest, err := repo.FindLatest(ctx, nil, subject)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	ok, err = repo.MarkPending(ctx, nil, second.ID, "momo-req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	staff := "staff-1"
	ok, err = repo.MarkPaid(ctx, db, second.ID, "momo-txn-1", &staff, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPaid(ctx, db, second.ID, "momo-txn-1", nil, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkFailed(ctx, db, second.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, nil, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.Status)
	assert.Equal(t, "momo-txn-1", got.ProviderRef)
	require.NotNil(t, got.ConfirmedBy)
	assert.Equal(t, staff, *got.ConfirmedBy)

	all, err := repo.ListBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPaymentRepository_SharedTransactionCode(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	now := time.Now()

	// same method, same day and same trailing six hex digits
	a := model.NewPayment("11111111-1111-1111-1111-111111abcdef", model.OrderRef{OrderID: "o1"},
		model.PaymentMethodBankTransfer, decimal.NewFromInt(1000), now)
	b := model.NewPayment("22222222-2222-2222-2222-222222abcdef", model.OrderRef{OrderID: "o2"},
		model.PaymentMethodBankTransfer, decimal.NewFromInt(2000), now)
	require.Equal(t, a.TransactionCode, b.TransactionCode)

	require.NoError(t, repo.Create(ctx, nil, a))
	require.NoError(t, repo.Create(ctx, nil, b))

	got, err := repo.FindByID(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.TransactionCode, got.TransactionCode)
}

func TestLoyaltyRepository_EarnOncePerOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewLoyaltyRepository(db)

	has, err := repo.HasEarnEntry(ctx, db, "o1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.Create(ctx, db, &model.LoyaltyTransaction{UserID: "u1", OrderID: "o1", Type: model.LoyaltyEarn, Points: 29}))
	require.Error(t, repo.Create(ctx, db, &model.LoyaltyTransaction{UserID: "u1", OrderID: "o1", Type: model.LoyaltyEarn, Points: 29}))
	require.NoError(t, repo.Create(ctx, db, &model.LoyaltyTransaction{UserID: "u1", OrderID: "o2", Type: model.LoyaltyRedeem, Points: 9}))

	has, err = repo.HasEarnEntry(ctx, db, "o1")
	require.NoError(t, err)
	assert.True(t, has)

	balance, err := repo.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
}

func TestVoucherRepository_IncrementUses(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	require.NoError(t, db.Create(&model.Voucher{ID: "v1", Code: "WELCOME", Discount: decimal.NewFromInt(10000), MaxUses: 1, Active: true}).Error)

	ok, err := repo.IncrementUses(ctx, db, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementUses(ctx, db, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservationRepository_MarkPaid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReservationRepository(db)
	r := &model.Reservation{
		ID: "r1", UserID: "u1", Guests: 4, ReservedFor: time.Now().Add(24 * time.Hour),
		Deposit: decimal.NewFromInt(200000), Status: model.ReservationPending, PaymentStatus: model.PaymentStatusUnpaid,
	}
	require.NoError(t, repo.Create(ctx, nil, r))

	ok, err := repo.MarkPaid(ctx, db, "r1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkPaid(ctx, db, "r1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, nil, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, got.Status)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
}
