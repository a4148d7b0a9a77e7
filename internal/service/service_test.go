package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/braintree-go/braintree-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"order-payment-service/internal/client"
	"order-payment-service/internal/config"
	"order-payment-service/internal/deferred"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/model"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/repository"
)

const (
	testVNPaySecret = "vnp-secret"
	testMoMoAccess  = "momo-access"
	testMoMoSecret  = "momo-secret"
)

type fakeAdapter struct {
	method model.PaymentMethod
	err    error
	calls  int
}

func (f *fakeAdapter) Method() model.PaymentMethod { return f.method }

func (f *fakeAdapter) CreateRedirect(_ context.Context, req gateway.Request) (*gateway.Redirect, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Redirect{
		URL:         "https://pay.example/" + req.Correlation.Encode(),
		ProviderRef: "ref-" + req.Correlation.AttemptID,
	}, nil
}

type fakeBraintreeAPI struct {
	tx    *braintree.Transaction
	err   error
	sales int
}

func (f *fakeBraintreeAPI) GenerateClientToken(context.Context) (string, error) {
	return "client-token", f.err
}

func (f *fakeBraintreeAPI) CreateSale(context.Context, *braintree.TransactionRequest) (*braintree.Transaction, error) {
	f.sales++
	return f.tx, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSink) Notify(_ context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]notify.Kind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (s *recordingSink) has(kind notify.Kind) bool {
	for _, k := range s.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	db  *gorm.DB
	now time.Time

	orderRepo    repository.OrderRepository
	dishRepo     repository.DishRepository
	cartRepo     repository.CartRepository
	paymentRepo  repository.PaymentRepository
	voucherRepo  repository.VoucherRepository
	loyaltyRepo  repository.LoyaltyRepository
	callbackRepo repository.GatewayCallbackRepository
	reservations repository.ReservationRepository

	adapters  map[model.PaymentMethod]*fakeAdapter
	braintree *fakeBraintreeAPI
	sink      *recordingSink
	checks    *deferred.Scheduler

	settings Settings
	notifier *notify.BestEffort
	lg       *zap.Logger

	orders    OrderService
	payments  PaymentService
	callbacks CallbackService
	sweeper   *TimeoutSweeper
}

type harnessConfig struct {
	dsn         string
	graceWindow time.Duration
}

type harnessOption func(*harnessConfig)

// withFileDB backs the harness with a sqlite file instead of shared memory.
func withFileDB(t *testing.T) harnessOption {
	return func(c *harnessConfig) {
		c.dsn = filepath.Join(t.TempDir(), "orders.db")
	}
}

func withGraceWindow(d time.Duration) harnessOption {
	return func(c *harnessConfig) {
		c.graceWindow = d
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		dsn:         "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		graceWindow: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := client.InitSqliteClient(cfg.dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	lg := zap.NewNop()
	h := &harness{
		db:           db,
		now:          time.Now().UTC(),
		orderRepo:    repository.NewOrderRepository(db),
		dishRepo:     repository.NewDishRepository(db),
		cartRepo:     repository.NewCartRepository(db),
		paymentRepo:  repository.NewPaymentRepository(db),
		voucherRepo:  repository.NewVoucherRepository(db),
		loyaltyRepo:  repository.NewLoyaltyRepository(db),
		callbackRepo: repository.NewGatewayCallbackRepository(db),
		reservations: repository.NewReservationRepository(db),
		adapters:     map[model.PaymentMethod]*fakeAdapter{},
		braintree:    &fakeBraintreeAPI{},
		sink:         &recordingSink{},
		checks:       deferred.New(lg),
	}
	t.Cleanup(h.checks.Stop)

	adapters := make([]gateway.Adapter, 0, len(model.OnlinePaymentMethods))
	for _, m := range model.OnlinePaymentMethods {
		f := &fakeAdapter{method: m}
		h.adapters[m] = f
		adapters = append(adapters, f)
	}

	settings := Settings{
		AmountTolerance: decimal.NewFromInt(1000),
		GraceWindow:     cfg.graceWindow,
		ReturnWindow:    30 * time.Minute,
		SweepInterval:   time.Minute,
		GatewayTimeout:  5 * time.Second,
		VATRate:         decimal.NewFromFloat(0.08),
		Now:             func() time.Time { return h.now },
	}
	notifier := notify.NewBestEffort(h.sink, lg)
	h.settings = settings
	h.notifier = notifier
	h.lg = lg

	h.payments = NewPaymentService(db, h.orderRepo, h.paymentRepo, h.reservations,
		gateway.NewRegistry(adapters...),
		gateway.NewBankTransfer(config.Bank{BIN: "970436", AccountNumber: "0123456789", AccountName: "NHA HANG", BankName: "Vietcombank"}),
		h.checks, notifier, settings, lg)

	h.orders = NewOrderService(OrderServiceDeps{
		DB:          db,
		OrderRepo:   h.orderRepo,
		DishRepo:    h.dishRepo,
		CartRepo:    h.cartRepo,
		AddressRepo: repository.NewAddressRepository(db),
		VoucherRepo: h.voucherRepo,
		LoyaltyRepo: h.loyaltyRepo,
		PaymentRepo: h.paymentRepo,
		Vouchers:    NewRepoVoucherValidator(h.voucherRepo),
		Loyalty:     NewFlatRatePolicy(10000),
		Payments:    h.payments,
		Checks:      h.checks,
		Notifier:    notifier,
		Settings:    settings,
		Logger:      lg,
	})

	h.callbacks = NewCallbackService(Gateways{
		VNPay:     gateway.NewVNPay(&config.VNPay{PayURL: "https://vnpay.test/pay", TmnCode: "TMN", HashSecret: testVNPaySecret}, "http://svc"),
		MoMo:      gateway.NewMoMo(&config.MoMo{Endpoint: "http://momo.invalid", PartnerCode: "MOMO01", AccessKey: testMoMoAccess, SecretKey: testMoMoSecret}, "http://svc", time.Second),
		Braintree: gateway.NewBraintree(h.braintree, "http://client/checkout", 25000),
	}, h.payments, h.paymentRepo, h.callbackRepo, config.ClientURLs{
		SuccessURL: "http://client/success",
		FailureURL: "http://client/failure",
	}, lg)

	h.sweeper = NewTimeoutSweeper(db, h.orderRepo, h.dishRepo, h.paymentRepo, h.checks, notifier, settings, lg)

	require.NoError(t, h.dishRepo.Seed(context.Background(), []*model.Dish{
		{
			ID: "pho", Name: "Pho bo", Price: decimal.NewFromInt(100000), Stock: 10, IsAvailable: true,
			Ingredients: []model.DishIngredient{
				{IngredientID: "beef", Quantity: decimal.NewFromFloat(0.15), Unit: "kg"},
				{IngredientID: "noodle", Quantity: decimal.NewFromFloat(0.2), Unit: "kg"},
			},
		},
		{ID: "tra-da", Name: "Tra da", Price: decimal.NewFromInt(50000), Stock: 10, IsAvailable: true},
		{ID: "sold-out", Name: "Banh xeo", Price: decimal.NewFromInt(70000), Stock: 0, IsAvailable: true},
		{ID: "hidden", Name: "Com tam", Price: decimal.NewFromInt(60000), Stock: 5, IsAvailable: false},
	}))

	return h
}

// standardOrder is two pho and one iced tea delivered with a 20,000 fee:
// subtotal 250,000, VAT 20,000, total 290,000.
func standardOrder(userID string, method model.PaymentMethod) PlaceOrderInput {
	return PlaceOrderInput{
		UserID:       userID,
		DeliveryType: model.DeliveryTypeDelivery,
		Address: &AddressInput{
			ReceiverName: "Nguyen Van A",
			Phone:        "0901234567",
			Street:       "12 Ly Thuong Kiet",
			District:     "Hoan Kiem",
			City:         "Ha Noi",
		},
		PaymentMethod: method,
		Items: []OrderItemInput{
			{DishID: "pho", Quantity: 2},
			{DishID: "tra-da", Quantity: 1},
		},
		ShippingFee: decimal.NewFromInt(20000),
	}
}

func (h *harness) place(t *testing.T, in PlaceOrderInput) *PlaceOrderResult {
	t.Helper()
	res, err := h.orders.PlaceOrder(context.Background(), in)
	require.NoError(t, err)
	return res
}

func (h *harness) order(t *testing.T, id string) *model.Order {
	t.Helper()
	o, err := h.orderRepo.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return o
}

func (h *harness) dish(t *testing.T, id string) *model.Dish {
	t.Helper()
	d, err := h.dishRepo.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return d
}

func (h *harness) attempts(t *testing.T, orderID string) []*model.Payment {
	t.Helper()
	list, err := h.paymentRepo.ListBySubject(context.Background(), model.OrderRef{OrderID: orderID})
	require.NoError(t, err)
	return list
}

func (h *harness) attempt(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := h.paymentRepo.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return p
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

var staff = Actor{UserID: "staff-1", Staff: true}

// deliver walks a paid order along the delivery branch of the status graph.
func (h *harness) deliver(t *testing.T, orderID string) *model.Order {
	t.Helper()
	var (
		o   *model.Order
		err error
	)
	for _, next := range []model.OrderStatus{
		model.OrderStatusConfirmed,
		model.OrderStatusPendingPickup,
		model.OrderStatusInTransit,
		model.OrderStatusDelivered,
	} {
		o, err = h.orders.UpdateOrderStatus(context.Background(), staff, orderID, next, "")
		require.NoError(t, err)
	}
	return o
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got.String())
}

func signVNPay(params url.Values) url.Values {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params.Get(k)))
	}
	mac := hmac.New(sha512.New, []byte(testVNPaySecret))
	mac.Write([]byte(strings.Join(parts, "&")))

	signed := url.Values{}
	for k, v := range params {
		signed[k] = v
	}
	signed.Set("vnp_SecureHash", hex.EncodeToString(mac.Sum(nil)))
	return signed
}

func signMoMo(cb *gateway.MoMoCallback) {
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		testMoMoAccess, cb.Amount, cb.ExtraData, cb.Message, cb.OrderID, cb.OrderInfo, cb.OrderType,
		cb.PartnerCode, cb.PayType, cb.RequestID, cb.ResponseTime, cb.ResultCode, cb.TransID,
	)
	mac := hmac.New(sha256.New, []byte(testMoMoSecret))
	mac.Write([]byte(raw))
	cb.Signature = hex.EncodeToString(mac.Sum(nil))
}
