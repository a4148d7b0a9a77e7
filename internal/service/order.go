package service

import (
	"context"
	"order-payment-service/internal/deferred"
	"order-payment-service/internal/metrics"
	"order-payment-service/internal/model"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/repository"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderItemInput struct {
	DishID   string
	Quantity int
	Note     string
}

type AddressInput struct {
	ReceiverName string
	Phone        string
	Street       string
	Ward         string
	District     string
	City         string
}

type PlaceOrderInput struct {
	UserID        string
	DeliveryType  model.DeliveryType
	AddressID     *string
	Address       *AddressInput
	PaymentMethod model.PaymentMethod
	Items         []OrderItemInput
	DeliveryTime  *time.Time
	VoucherID     *string
	ShippingFee   decimal.Decimal
	ReceiverName  string
	ReceiverPhone string
	Note          string
	Client        ClientContext
}

// PlaceOrderResult carries the committed order and, when the gateway could be
// reached, the payment instructions. A nil Payment never means the order was
// lost; the client can retry payment later.
type PlaceOrderResult struct {
	Order         *model.Order
	Payment       *DispatchResult
	DispatchError string
}

type OrderService interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, staff Actor, orderID string, target model.OrderStatus, reason string) (*model.Order, error)
	CancelOrder(ctx context.Context, actor Actor, orderID, reason string) (*model.Order, error)
	RequestReturn(ctx context.Context, actor Actor, orderID, reason string) (*model.Order, error)
}

type orderServiceImpl struct {
	db          *gorm.DB
	orderRepo   repository.OrderRepository
	dishRepo    repository.DishRepository
	cartRepo    repository.CartRepository
	addressRepo repository.AddressRepository
	voucherRepo repository.VoucherRepository
	loyaltyRepo repository.LoyaltyRepository
	vouchers    VoucherValidator
	loyalty     LoyaltyPolicy
	payments    PaymentService
	cancel      *canceller
	checks      *deferred.Scheduler
	notifier    *notify.BestEffort
	settings    Settings
	lg          *zap.Logger
}

type OrderServiceDeps struct {
	DB          *gorm.DB
	OrderRepo   repository.OrderRepository
	DishRepo    repository.DishRepository
	CartRepo    repository.CartRepository
	AddressRepo repository.AddressRepository
	VoucherRepo repository.VoucherRepository
	LoyaltyRepo repository.LoyaltyRepository
	PaymentRepo repository.PaymentRepository
	Vouchers    VoucherValidator
	Loyalty     LoyaltyPolicy
	Payments    PaymentService
	Checks      *deferred.Scheduler
	Notifier    *notify.BestEffort
	Settings    Settings
	Logger      *zap.Logger
}

func NewOrderService(deps OrderServiceDeps) OrderService {
	return &orderServiceImpl{
		db:          deps.DB,
		orderRepo:   deps.OrderRepo,
		dishRepo:    deps.DishRepo,
		cartRepo:    deps.CartRepo,
		addressRepo: deps.AddressRepo,
		voucherRepo: deps.VoucherRepo,
		loyaltyRepo: deps.LoyaltyRepo,
		vouchers:    deps.Vouchers,
		loyalty:     deps.Loyalty,
		payments:    deps.Payments,
		cancel:      newCanceller(deps.OrderRepo, deps.DishRepo, deps.PaymentRepo),
		checks:      deps.Checks,
		notifier:    deps.Notifier,
		settings:    deps.Settings,
		lg:          deps.Logger,
	}
}

func (s *orderServiceImpl) validatePlacement(in *PlaceOrderInput) error {
	if in.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	seen := make(map[string]bool, len(in.Items))
	for _, item := range in.Items {
		if item.DishID == "" {
			return &ValidationError{Field: "items", Reason: "dish id is required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: "items", Reason: "quantity must be positive for dish " + item.DishID}
		}
		if seen[item.DishID] {
			return &ValidationError{Field: "items", Reason: "duplicate dish " + item.DishID}
		}
		seen[item.DishID] = true
	}

	switch in.DeliveryType {
	case model.DeliveryTypeDelivery:
		hasID := in.AddressID != nil && *in.AddressID != ""
		if hasID == (in.Address != nil) {
			return &ValidationError{Field: "address", Reason: "exactly one of address id or inline address is required"}
		}
		if in.Address != nil && (in.Address.Street == "" || in.Address.City == "") {
			return &ValidationError{Field: "address", Reason: "street and city are required"}
		}
		if in.ShippingFee.IsNegative() {
			return &ValidationError{Field: "shipping_fee", Reason: "must not be negative"}
		}
	case model.DeliveryTypePickup:
		in.AddressID = nil
		in.Address = nil
		in.ShippingFee = decimal.Zero
	default:
		return &ValidationError{Field: "delivery_type", Reason: "unknown delivery type " + string(in.DeliveryType)}
	}

	if in.DeliveryTime != nil && !in.DeliveryTime.After(s.settings.Now()) {
		return &ValidationError{Field: "delivery_time", Reason: "must be in the future"}
	}

	if !in.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: "unknown method " + string(in.PaymentMethod)}
	}

	return nil
}

func (s *orderServiceImpl) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if err := s.validatePlacement(&in); err != nil {
		return nil, err
	}

	var discount *Discount
	if in.VoucherID != nil && *in.VoucherID != "" {
		d, err := s.vouchers.Validate(ctx, *in.VoucherID)
		if err != nil {
			return nil, &ValidationError{Field: "voucher_id", Reason: err.Error(), Err: err}
		}
		discount = d
	}

	now := s.settings.Now()
	order := &model.Order{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		DeliveryType:  in.DeliveryType,
		ReceiverName:  in.ReceiverName,
		ReceiverPhone: in.ReceiverPhone,
		DeliveryTime:  in.DeliveryTime,
		Note:          in.Note,
		ShippingFee:   in.ShippingFee,
		Discount:      decimal.Zero,
		Status:        model.OrderStatusPlaced,
		PaymentStatus: model.PaymentStatusUnpaid,
		PaymentMethod: in.PaymentMethod,
	}
	if discount != nil {
		order.VoucherID = &discount.VoucherID
		order.Discount = discount.Amount
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.resolveAddress(ctx, tx, &in, order); err != nil {
			return err
		}

		items := make([]*model.OrderItem, 0, len(in.Items))
		var usages []*model.IngredientUsage
		dishIDs := make([]string, 0, len(in.Items))
		subtotal := decimal.Zero

		for _, line := range in.Items {
			dish, err := s.dishRepo.FindByID(ctx, tx, line.DishID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &ValidationError{Field: "items", Reason: "unknown dish " + line.DishID, Err: ErrNotFound}
				}
				return errors.Wrapf(err, "load dish %s", line.DishID)
			}
			if !dish.IsAvailable {
				return &ValidationError{Field: "items", Reason: "dish " + dish.ID + " is not available"}
			}

			ok, err := s.dishRepo.DecrementStock(ctx, tx, dish.ID, line.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock for dish %s", dish.ID)
			}
			if !ok {
				return &InsufficientStockError{DishID: dish.ID, Requested: line.Quantity, Available: dish.Stock}
			}

			lineTotal := dish.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			subtotal = subtotal.Add(lineTotal)
			items = append(items, &model.OrderItem{
				OrderID:   order.ID,
				DishID:    dish.ID,
				DishName:  dish.Name,
				UnitPrice: dish.Price,
				Quantity:  line.Quantity,
				LineTotal: lineTotal,
				Note:      line.Note,
			})
			dishIDs = append(dishIDs, dish.ID)

			for _, ing := range dish.Ingredients {
				usages = append(usages, &model.IngredientUsage{
					OrderID:      order.ID,
					DishID:       dish.ID,
					IngredientID: ing.IngredientID,
					Quantity:     ing.Quantity.Mul(decimal.NewFromInt(int64(line.Quantity))),
					Unit:         ing.Unit,
				})
			}
		}

		order.ItemsSubtotal = subtotal
		order.VAT = subtotal.Mul(s.settings.VATRate).Round(0)
		order.Total = orderTotal(order.ItemsSubtotal, order.VAT, order.ShippingFee, order.Discount)

		if order.VoucherID != nil {
			ok, err := s.voucherRepo.IncrementUses(ctx, tx, *order.VoucherID)
			if err != nil {
				return errors.Wrap(err, "consume voucher")
			}
			if !ok {
				return &ValidationError{Field: "voucher_id", Reason: ErrVoucherUsedUp.Error(), Err: ErrVoucherUsedUp}
			}
		}

		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := s.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
			return errors.Wrap(err, "create order items")
		}
		if err := s.cartRepo.RemoveDishes(ctx, tx, in.UserID, dishIDs); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		if err := s.dishRepo.CreateUsages(ctx, tx, usages); err != nil {
			return errors.Wrap(err, "record ingredient usage")
		}

		order.Items = make([]model.OrderItem, len(items))
		for i, item := range items {
			order.Items[i] = *item
		}
		return nil
	})
	if err != nil {
		metrics.OrderPlacementFailuresTotal.Inc()
		s.lg.Info("Order placement rolled back", zap.String("user_id", in.UserID), zap.Error(err))
		return nil, abort("place order", err)
	}

	metrics.OrdersPlacedTotal.Inc()
	s.lg.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.Time("at", now),
	)

	s.notifier.Send(ctx, notify.Event{
		Kind:    notify.OrderPlaced,
		UserID:  order.UserID,
		OrderID: order.ID,
		Message: "Order placed",
	})

	result := &PlaceOrderResult{Order: order}
	dispatch, err := s.payments.DispatchPayment(ctx, order, in.Client)
	if err != nil {
		s.lg.Warn("Payment dispatch failed after order commit",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		result.DispatchError = err.Error()
	} else {
		result.Payment = dispatch
	}

	return result, nil
}

// orderTotal is subtotal + vat + shipping - discount, never below zero.
func orderTotal(subtotal, vat, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(vat).Add(shipping).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func (s *orderServiceImpl) resolveAddress(ctx context.Context, tx *gorm.DB, in *PlaceOrderInput, order *model.Order) error {
	if in.DeliveryType != model.DeliveryTypeDelivery {
		return nil
	}

	if in.AddressID != nil && *in.AddressID != "" {
		address, err := s.addressRepo.FindOwned(ctx, tx, in.UserID, *in.AddressID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ValidationError{Field: "address_id", Reason: "address not found", Err: ErrNotFound}
			}
			return errors.Wrap(err, "load address")
		}
		order.AddressID = &address.ID
		if order.ReceiverName == "" {
			order.ReceiverName = address.ReceiverName
		}
		if order.ReceiverPhone == "" {
			order.ReceiverPhone = address.Phone
		}
		return nil
	}

	address := &model.Address{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		ReceiverName: in.Address.ReceiverName,
		Phone:        in.Address.Phone,
		Street:       in.Address.Street,
		Ward:         in.Address.Ward,
		District:     in.Address.District,
		City:         in.Address.City,
	}
	if err := s.addressRepo.Create(ctx, tx, address); err != nil {
		return errors.Wrap(err, "create address")
	}
	order.AddressID = &address.ID
	if order.ReceiverName == "" {
		order.ReceiverName = address.ReceiverName
	}
	if order.ReceiverPhone == "" {
		order.ReceiverPhone = address.Phone
	}
	return nil
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, actor Actor, orderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.Staff && !actor.owns(order.UserID) {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *orderServiceImpl) UpdateOrderStatus(ctx context.Context, staff Actor, orderID string, target model.OrderStatus, reason string) (*model.Order, error) {
	if !staff.Staff {
		return nil, ErrForbidden
	}
	if !target.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(target)}
	}
	if target == model.OrderStatusCancelled {
		return s.cancelOrder(ctx, orderID, reason)
	}

	var updated *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByID(ctx, tx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if !order.Status.CanTransitionTo(target) {
			return &InvalidTransitionError{From: string(order.Status), To: string(target)}
		}

		now := s.settings.Now()
		fields := map[string]interface{}{}
		switch target {
		case model.OrderStatusDelivered:
			if order.PaymentStatus != model.PaymentStatusPaid {
				return &ValidationError{Field: "payment_status", Reason: "order must be paid before it is delivered"}
			}
			fields["delivered_at"] = now
		case model.OrderStatusReturnRequested:
			return &ValidationError{Field: "status", Reason: "returns are requested by the customer"}
		}

		ok, err := s.orderRepo.TransitionStatus(ctx, tx, order.ID, order.Status, target, fields)
		if err != nil {
			return errors.Wrap(err, "update order status")
		}
		if !ok {
			return ErrStalePrecondition
		}

		if target == model.OrderStatusDelivered {
			if err := s.earnLoyalty(ctx, tx, order); err != nil {
				return err
			}
		}

		updated, err = s.orderRepo.FindByID(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		var (
			transition *InvalidTransitionError
			validation *ValidationError
		)
		if errors.Is(err, ErrNotFound) || errors.As(err, &transition) || errors.As(err, &validation) {
			return nil, err
		}
		return nil, abort("update order status", err)
	}

	s.notifier.Send(ctx, notify.Event{
		Kind:    notify.OrderStatus,
		UserID:  updated.UserID,
		OrderID: updated.ID,
		Message: "Order is now " + string(updated.Status),
		Data:    map[string]string{"status": string(updated.Status)},
	})
	return updated, nil
}

// earnLoyalty credits points once per order. The existence check runs in
// the same transaction and the (order_id, type) unique index backs it up.
func (s *orderServiceImpl) earnLoyalty(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if s.loyalty == nil {
		return nil
	}
	exists, err := s.loyaltyRepo.HasEarnEntry(ctx, tx, order.ID)
	if err != nil {
		return errors.Wrap(err, "check loyalty ledger")
	}
	if exists {
		return nil
	}

	points := s.loyalty.EarnPoints(order)
	if points <= 0 {
		return nil
	}
	return s.loyaltyRepo.Create(ctx, tx, &model.LoyaltyTransaction{
		UserID:  order.UserID,
		OrderID: order.ID,
		Type:    model.LoyaltyEarn,
		Points:  points,
	})
}

func (s *orderServiceImpl) CancelOrder(ctx context.Context, actor Actor, orderID, reason string) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.Staff && !actor.owns(order.UserID) {
		return nil, ErrForbidden
	}
	return s.cancelOrder(ctx, orderID, reason)
}

func (s *orderServiceImpl) cancelOrder(ctx context.Context, orderID, reason string) (*model.Order, error) {
	if reason == "" {
		reason = "cancelled"
	}

	var (
		updated *model.Order
		outcome cancelOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByID(ctx, tx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if !order.Status.CanTransitionTo(model.OrderStatusCancelled) {
			return &InvalidTransitionError{From: string(order.Status), To: string(model.OrderStatusCancelled)}
		}

		outcome, err = s.cancel.cancel(ctx, tx, order, reason, reason, s.settings.Now())
		if err != nil {
			return err
		}
		if !outcome.cancelled {
			return ErrStalePrecondition
		}

		updated, err = s.orderRepo.FindByID(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		var transition *InvalidTransitionError
		if errors.Is(err, ErrNotFound) || errors.As(err, &transition) {
			return nil, err
		}
		return nil, abort("cancel order", err)
	}

	if outcome.failedAttempt != "" {
		s.checks.Resolve(outcome.failedAttempt)
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:    notify.OrderCancelled,
		UserID:  updated.UserID,
		OrderID: updated.ID,
		Message: "Order cancelled: " + reason,
	})
	return updated, nil
}

func (s *orderServiceImpl) RequestReturn(ctx context.Context, actor Actor, orderID, reason string) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.owns(order.UserID) {
		return nil, ErrForbidden
	}
	if order.Status != model.OrderStatusDelivered {
		return nil, &InvalidTransitionError{From: string(order.Status), To: string(model.OrderStatusReturnRequested)}
	}

	now := s.settings.Now()
	if order.DeliveredAt == nil || now.Sub(*order.DeliveredAt) > s.settings.ReturnWindow {
		return nil, &ValidationError{Field: "status", Reason: "return window has closed"}
	}

	// status, reason and timestamp land in one conditional write
	ok, err := s.orderRepo.TransitionStatus(ctx, s.db, order.ID, model.OrderStatusDelivered, model.OrderStatusReturnRequested,
		map[string]interface{}{
			"return_reason":       reason,
			"return_requested_at": now,
		})
	if err != nil {
		return nil, errors.Wrap(err, "request return")
	}
	if !ok {
		return nil, ErrStalePrecondition
	}

	updated, err := s.orderRepo.FindByID(ctx, nil, order.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:    notify.OrderStatus,
		UserID:  updated.UserID,
		OrderID: updated.ID,
		Message: "Return requested",
		Data:    map[string]string{"status": string(updated.Status)},
	})
	return updated, nil
}

type cancelOutcome struct {
	cancelled     bool
	failedAttempt string
}

// canceller moves an order to CANCELLED, gives the stock back and fails the
// newest open attempt. Used by explicit cancellation and the sweeper.
type canceller struct {
	orderRepo   repository.OrderRepository
	dishRepo    repository.DishRepository
	paymentRepo repository.PaymentRepository
}

func newCanceller(orderRepo repository.OrderRepository, dishRepo repository.DishRepository, paymentRepo repository.PaymentRepository) *canceller {
	return &canceller{orderRepo: orderRepo, dishRepo: dishRepo, paymentRepo: paymentRepo}
}

// cancel records reason on the order and failReason on its newest open attempt.
func (c *canceller) cancel(ctx context.Context, tx *gorm.DB, order *model.Order, reason, failReason string, now time.Time) (cancelOutcome, error) {
	var out cancelOutcome

	ok, err := c.orderRepo.TransitionStatus(ctx, tx, order.ID, order.Status, model.OrderStatusCancelled,
		map[string]interface{}{
			"cancel_reason": reason,
			"cancelled_at":  now,
		})
	if err != nil {
		return out, errors.Wrap(err, "cancel order")
	}
	if !ok {
		return out, nil
	}
	out.cancelled = true

	items := order.Items
	if len(items) == 0 {
		loaded, err := c.orderRepo.GetOrderItems(ctx, tx, order.ID)
		if err != nil {
			return out, errors.Wrap(err, "load order items")
		}
		for _, item := range loaded {
			items = append(items, *item)
		}
	}
	for _, item := range items {
		if err := c.dishRepo.RestoreStock(ctx, tx, item.DishID, item.Quantity); err != nil {
			return out, errors.Wrapf(err, "restore stock for dish %s", item.DishID)
		}
	}

	latest, err := c.paymentRepo.FindLatest(ctx, tx, model.OrderRef{OrderID: order.ID})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, nil
		}
		return out, errors.Wrap(err, "load latest attempt")
	}
	failed, err := c.paymentRepo.MarkFailed(ctx, tx, latest.ID, failReason)
	if err != nil {
		return out, errors.Wrap(err, "fail open attempt")
	}
	if failed {
		out.failedAttempt = latest.ID
	}
	return out, nil
}
