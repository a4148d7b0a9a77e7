package service

import (
	"context"
	"order-payment-service/internal/deferred"
	"order-payment-service/internal/gateway"
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

// expiryReason is recorded on an online attempt that was never settled.
const expiryReason = "timeout"

// supersededReason is recorded on an open attempt replaced by a retry.
const supersededReason = "superseded"

type DispatchType string

const (
	DispatchRedirect     DispatchType = "redirect"
	DispatchBankTransfer DispatchType = "bank_transfer"
	DispatchCash         DispatchType = "cash"
)

// DispatchResult has the same shape for every provider.
type DispatchResult struct {
	Type            DispatchType         `json:"type"`
	RedirectURL     *string              `json:"redirect_url"`
	BankingInfo     *gateway.BankingInfo `json:"banking_info"`
	Total           decimal.Decimal      `json:"total"`
	AttemptID       string               `json:"attempt_id"`
	TransactionCode string               `json:"transaction_code"`
}

type ReconcileInput struct {
	AttemptID   string
	PaidAmount  decimal.Decimal
	ProviderRef string
	ConfirmedBy *string
}

// ReconcileResult describes what a reconciliation call did. Applied is false
// when the call was a replay or lost a race and changed nothing.
type ReconcileResult struct {
	Attempt *model.Payment
	Subject model.PaymentSubject
	Applied bool
	// Late is set when money arrived for an order that was already cancelled.
	Late bool
}

type PaymentService interface {
	DispatchPayment(ctx context.Context, order *model.Order, client ClientContext) (*DispatchResult, error)
	DispatchReservationDeposit(ctx context.Context, actor Actor, reservationID string, method model.PaymentMethod, client ClientContext) (*DispatchResult, error)
	ReconcilePaymentSuccess(ctx context.Context, in ReconcileInput) (*ReconcileResult, error)
	ReconcilePaymentFailure(ctx context.Context, attemptID, reason string) (*ReconcileResult, error)
	RetryPayment(ctx context.Context, actor Actor, orderID string, client ClientContext) (*DispatchResult, error)
	ChangePaymentMethod(ctx context.Context, actor Actor, orderID string, method model.PaymentMethod, client ClientContext) (*DispatchResult, error)
	ConfirmManual(ctx context.Context, staff Actor, attemptID string, amount decimal.Decimal, transactionCode string) (*ReconcileResult, error)
	ListAttempts(ctx context.Context, actor Actor, orderID string) ([]*model.Payment, error)
}

type paymentServiceImpl struct {
	db              *gorm.DB
	orderRepo       repository.OrderRepository
	paymentRepo     repository.PaymentRepository
	reservationRepo repository.ReservationRepository
	gateways        *gateway.Registry
	bank            *gateway.BankTransfer
	checks          *deferred.Scheduler
	notifier        *notify.BestEffort
	settings        Settings
	lg              *zap.Logger
}

func NewPaymentService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	reservationRepo repository.ReservationRepository,
	gateways *gateway.Registry,
	bank *gateway.BankTransfer,
	checks *deferred.Scheduler,
	notifier *notify.BestEffort,
	settings Settings,
	lg *zap.Logger,
) PaymentService {
	return &paymentServiceImpl{
		db:              db,
		orderRepo:       orderRepo,
		paymentRepo:     paymentRepo,
		reservationRepo: reservationRepo,
		gateways:        gateways,
		bank:            bank,
		checks:          checks,
		notifier:        notifier,
		settings:        settings,
		lg:              lg,
	}
}

func (s *paymentServiceImpl) DispatchPayment(ctx context.Context, order *model.Order, client ClientContext) (*DispatchResult, error) {
	attempt := model.NewPayment(uuid.NewString(), model.OrderRef{OrderID: order.ID},
		order.PaymentMethod, order.Total, s.settings.Now())
	if err := s.paymentRepo.Create(ctx, nil, attempt); err != nil {
		return nil, errors.Wrap(err, "create payment attempt")
	}

	return s.dispatchAttempt(ctx, attempt, "Thanh toan don hang "+order.ID, client)
}

func (s *paymentServiceImpl) DispatchReservationDeposit(ctx context.Context, actor Actor, reservationID string, method model.PaymentMethod, client ClientContext) (*DispatchResult, error) {
	if !method.Valid() || method == model.PaymentMethodCash {
		return nil, &ValidationError{Field: "payment_method", Reason: "unsupported method for deposit " + string(method)}
	}

	reservation, err := s.reservationRepo.FindByID(ctx, nil, reservationID)
	if err != nil {
		return nil, notFound(err, "reservation")
	}
	if !actor.owns(reservation.UserID) {
		return nil, ErrForbidden
	}
	if reservation.PaymentStatus == model.PaymentStatusPaid || reservation.Status == model.ReservationCancelled {
		return nil, ErrPaymentClosed
	}

	attempt := model.NewPayment(uuid.NewString(), model.ReservationRef{ReservationID: reservation.ID},
		method, reservation.Deposit, s.settings.Now())
	if err := s.paymentRepo.Create(ctx, nil, attempt); err != nil {
		return nil, errors.Wrap(err, "create payment attempt")
	}

	return s.dispatchAttempt(ctx, attempt, "Dat coc ban "+reservation.ID, client)
}

// dispatchAttempt hands an UNPAID attempt to its provider. On any gateway
// failure the attempt is left UNPAID.
func (s *paymentServiceImpl) dispatchAttempt(ctx context.Context, attempt *model.Payment, description string, client ClientContext) (*DispatchResult, error) {
	result := &DispatchResult{
		Total:           attempt.Amount,
		AttemptID:       attempt.ID,
		TransactionCode: attempt.TransactionCode,
	}

	switch attempt.Method {
	case model.PaymentMethodCash:
		s.checks.Resolve(attempt.ID)
		result.Type = DispatchCash
		metrics.PaymentDispatchTotal.WithLabelValues(string(attempt.Method), "ok").Inc()
		return result, nil

	case model.PaymentMethodBankTransfer:
		info := s.bank.Instructions(attempt.Amount, attempt.TransactionCode)
		if err := s.paymentRepo.SetBankingQR(ctx, nil, attempt.ID, info.QRPayload); err != nil {
			return nil, errors.Wrap(err, "store banking qr")
		}
		s.checks.Resolve(attempt.ID)
		result.Type = DispatchBankTransfer
		result.BankingInfo = info
		metrics.PaymentDispatchTotal.WithLabelValues(string(attempt.Method), "ok").Inc()
		return result, nil
	}

	adapter, ok := s.gateways.Get(attempt.Method)
	if !ok {
		return nil, &gateway.Error{Provider: attempt.Method, Op: "dispatch", Err: errors.New("no adapter configured")}
	}

	subject, err := attempt.Subject()
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()

	start := time.Now()
	redirect, err := adapter.CreateRedirect(gwCtx, gateway.Request{
		Amount:      attempt.Amount,
		Correlation: gateway.Correlation{Kind: subject.Kind(), AttemptID: attempt.ID},
		Description: description,
		ClientIP:    client.IP,
	})
	metrics.GatewayRequestDuration.WithLabelValues(string(attempt.Method)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PaymentDispatchTotal.WithLabelValues(string(attempt.Method), "error").Inc()
		s.lg.Warn("Gateway dispatch failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("method", string(attempt.Method)),
			zap.Error(err),
		)
		var gwErr *gateway.Error
		if !errors.As(err, &gwErr) {
			err = &gateway.Error{Provider: attempt.Method, Op: "dispatch", Err: err}
		}
		return nil, err
	}

	if _, err := s.paymentRepo.MarkPending(ctx, nil, attempt.ID, redirect.ProviderRef); err != nil {
		return nil, errors.Wrap(err, "mark attempt pending")
	}

	attemptID := attempt.ID
	s.checks.Schedule(attemptID, s.settings.GraceWindow, func(ctx context.Context) {
		s.expireAttempt(ctx, attemptID)
	})

	metrics.PaymentDispatchTotal.WithLabelValues(string(attempt.Method), "ok").Inc()
	result.Type = DispatchRedirect
	result.RedirectURL = &redirect.URL
	return result, nil
}

// expireAttempt fails an online attempt still waiting on its gateway once the
// grace window has passed. Attempts that moved on in the meantime are left alone.
func (s *paymentServiceImpl) expireAttempt(ctx context.Context, attemptID string) {
	attempt, err := s.paymentRepo.FindByID(ctx, nil, attemptID)
	if err != nil {
		s.lg.Warn("Deferred payment expiry skipped", zap.String("attempt_id", attemptID), zap.Error(err))
		return
	}
	if attempt.Status != model.PaymentStatusPending || !attempt.Method.IsOnline() {
		return
	}
	if _, err := s.ReconcilePaymentFailure(ctx, attemptID, expiryReason); err != nil {
		s.lg.Warn("Deferred payment expiry failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}
}

func (s *paymentServiceImpl) ReconcilePaymentSuccess(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	res := &ReconcileResult{}
	var owner string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := s.paymentRepo.FindByID(ctx, tx, in.AttemptID)
		if err != nil {
			return notFound(err, "payment attempt")
		}
		res.Attempt = attempt

		subject, err := attempt.Subject()
		if err != nil {
			return err
		}
		res.Subject = subject
		if !attempt.Status.CanTransitionTo(model.PaymentStatusPaid) {
			return nil
		}

		paid, cancelled, userID, err := s.subjectState(ctx, tx, subject)
		if err != nil {
			return err
		}
		owner = userID
		if paid {
			return nil
		}

		if attempt.Amount.Sub(in.PaidAmount).Abs().GreaterThan(s.settings.AmountTolerance) {
			return &MismatchError{AttemptID: attempt.ID, Expected: attempt.Amount, Got: in.PaidAmount}
		}

		now := s.settings.Now()
		ok, err := s.paymentRepo.MarkPaid(ctx, tx, attempt.ID, in.ProviderRef, in.ConfirmedBy, now)
		if err != nil {
			return errors.Wrap(err, "mark attempt paid")
		}
		if !ok {
			return nil
		}

		switch subject.Kind() {
		case model.SubjectOrder:
			ok, err = s.orderRepo.MarkPaid(ctx, tx, subject.ID(), now)
		case model.SubjectReservation:
			ok, err = s.reservationRepo.MarkPaid(ctx, tx, subject.ID(), now)
		}
		if err != nil {
			return errors.Wrap(err, "mark subject paid")
		}
		res.Applied = ok
		res.Late = ok && cancelled
		return nil
	})
	if err != nil {
		var mismatch *MismatchError
		if errors.As(err, &mismatch) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, abort("reconcile payment", err)
	}

	if !res.Applied {
		s.lg.Info("Payment already reconciled", zap.String("attempt_id", in.AttemptID))
		return res, nil
	}

	s.checks.Resolve(in.AttemptID)
	if res.Late {
		s.lg.Warn("Payment received for cancelled order, refund required",
			zap.String("attempt_id", in.AttemptID),
			zap.String("order_id", res.Subject.ID()),
		)
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:    notify.PaymentSucceeded,
		UserID:  owner,
		OrderID: res.Subject.ID(),
		Message: "Payment received",
		Data:    map[string]string{"attempt_id": in.AttemptID, "subject": string(res.Subject.Kind())},
	})
	return res, nil
}

// subjectState reads the paid/cancelled flags and owner of an attempt's subject.
func (s *paymentServiceImpl) subjectState(ctx context.Context, tx *gorm.DB, subject model.PaymentSubject) (paid, cancelled bool, userID string, err error) {
	switch subject.Kind() {
	case model.SubjectOrder:
		order, err := s.orderRepo.FindByID(ctx, tx, subject.ID())
		if err != nil {
			return false, false, "", notFound(err, "order")
		}
		return order.PaymentStatus == model.PaymentStatusPaid, order.Status == model.OrderStatusCancelled, order.UserID, nil
	case model.SubjectReservation:
		reservation, err := s.reservationRepo.FindByID(ctx, tx, subject.ID())
		if err != nil {
			return false, false, "", notFound(err, "reservation")
		}
		return reservation.PaymentStatus == model.PaymentStatusPaid, reservation.Status == model.ReservationCancelled, reservation.UserID, nil
	}
	return false, false, "", errors.Errorf("unknown subject kind %q", subject.Kind())
}

func (s *paymentServiceImpl) ReconcilePaymentFailure(ctx context.Context, attemptID, reason string) (*ReconcileResult, error) {
	res := &ReconcileResult{}
	var owner string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := s.paymentRepo.FindByID(ctx, tx, attemptID)
		if err != nil {
			return notFound(err, "payment attempt")
		}
		res.Attempt = attempt

		subject, err := attempt.Subject()
		if err != nil {
			return err
		}
		res.Subject = subject
		if !attempt.Status.CanTransitionTo(model.PaymentStatusFailed) {
			return nil
		}

		ok, err := s.paymentRepo.MarkFailed(ctx, tx, attempt.ID, reason)
		if err != nil {
			return errors.Wrap(err, "mark attempt failed")
		}
		if !ok {
			return nil
		}
		res.Applied = true

		// Only the newest attempt speaks for the subject; an abandoned one
		// failing must not flag a retry that is still in flight.
		latest, err := s.paymentRepo.FindLatest(ctx, tx, subject)
		if err != nil {
			return errors.Wrap(err, "load latest attempt")
		}
		if latest.ID != attempt.ID {
			return nil
		}

		switch subject.Kind() {
		case model.SubjectOrder:
			order, err := s.orderRepo.FindByID(ctx, tx, subject.ID())
			if err != nil {
				return notFound(err, "order")
			}
			owner = order.UserID
			_, err = s.orderRepo.MarkPaymentFailed(ctx, tx, subject.ID())
			return err
		case model.SubjectReservation:
			_, err = s.reservationRepo.MarkPaymentFailed(ctx, tx, subject.ID())
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, abort("reconcile payment failure", err)
	}

	if res.Applied {
		s.checks.Resolve(attemptID)
		if owner != "" {
			s.notifier.Send(ctx, notify.Event{
				Kind:    notify.PaymentFailed,
				UserID:  owner,
				OrderID: res.Subject.ID(),
				Message: "Payment failed: " + reason,
			})
		}
	}
	return res, nil
}

func (s *paymentServiceImpl) RetryPayment(ctx context.Context, actor Actor, orderID string, client ClientContext) (*DispatchResult, error) {
	return s.switchPayment(ctx, actor, orderID, "", client)
}

func (s *paymentServiceImpl) ChangePaymentMethod(ctx context.Context, actor Actor, orderID string, method model.PaymentMethod, client ClientContext) (*DispatchResult, error) {
	if !method.Valid() {
		return nil, &ValidationError{Field: "payment_method", Reason: "unknown method " + string(method)}
	}
	return s.switchPayment(ctx, actor, orderID, method, client)
}

// paymentLocked lists order statuses after which the payment is settled one
// way or the other.
var paymentLocked = map[model.OrderStatus]bool{
	model.OrderStatusCancelled:       true,
	model.OrderStatusDelivered:       true,
	model.OrderStatusReturnRequested: true,
	model.OrderStatusReturnApproved:  true,
	model.OrderStatusReturnRejected:  true,
	model.OrderStatusReturned:        true,
}

// switchPayment points the order at method (its current one when empty) and
// dispatches. The attempt and the order are updated in one transaction so
// their methods never disagree.
//
// An open attempt is mutated in place only while it is UNPAID and neither
// method is online. Anything a gateway may already have seen is superseded
// by a fresh attempt, since providers reject a merchant reference twice.
func (s *paymentServiceImpl) switchPayment(ctx context.Context, actor Actor, orderID string, method model.PaymentMethod, client ClientContext) (*DispatchResult, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.owns(order.UserID) {
		return nil, ErrForbidden
	}
	if order.PaymentStatus == model.PaymentStatusPaid || order.PaymentStatus == model.PaymentStatusRefunded {
		return nil, errors.Wrapf(ErrPaymentClosed, "order payment is %s", order.PaymentStatus)
	}
	if paymentLocked[order.Status] {
		return nil, errors.Wrapf(ErrPaymentClosed, "order is %s", order.Status)
	}
	if method == "" {
		method = order.PaymentMethod
	}

	var (
		attempt    *model.Payment
		superseded string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subject := model.OrderRef{OrderID: order.ID}
		now := s.settings.Now()

		latest, err := s.paymentRepo.FindLatest(ctx, tx, subject)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "load latest attempt")
		}

		reuse := latest != nil && latest.Status == model.PaymentStatusUnpaid &&
			!latest.Method.IsOnline() && !method.IsOnline()

		if latest != nil && latest.Status.IsOpen() && !reuse {
			ok, err := s.paymentRepo.MarkFailed(ctx, tx, latest.ID, supersededReason)
			if err != nil {
				return errors.Wrap(err, "supersede attempt")
			}
			if !ok {
				return ErrStalePrecondition
			}
			superseded = latest.ID
		}

		if reuse {
			ok, err := s.paymentRepo.ChangeMethod(ctx, tx, latest.ID, method, model.TransactionCode(method, latest.ID, now))
			if err != nil {
				return errors.Wrap(err, "change attempt method")
			}
			if !ok {
				return ErrStalePrecondition
			}
			if attempt, err = s.paymentRepo.FindByID(ctx, tx, latest.ID); err != nil {
				return errors.Wrap(err, "reload attempt")
			}
		} else {
			attempt = model.NewPayment(uuid.NewString(), subject, method, order.Total, now)
			if err := s.paymentRepo.Create(ctx, tx, attempt); err != nil {
				return errors.Wrap(err, "create payment attempt")
			}
		}

		ok, err := s.orderRepo.SwitchPaymentMethod(ctx, tx, order.ID, order.Status, order.PaymentStatus, method)
		if err != nil {
			return errors.Wrap(err, "update order payment method")
		}
		if !ok {
			return ErrStalePrecondition
		}
		return nil
	})
	if err != nil {
		return nil, abort("switch payment method", err)
	}
	if superseded != "" {
		s.checks.Resolve(superseded)
	}

	return s.dispatchAttempt(ctx, attempt, "Thanh toan don hang "+order.ID, client)
}

func (s *paymentServiceImpl) ConfirmManual(ctx context.Context, staff Actor, attemptID string, amount decimal.Decimal, transactionCode string) (*ReconcileResult, error) {
	if !staff.Staff {
		return nil, ErrForbidden
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	confirmedBy := staff.UserID
	res, err := s.ReconcilePaymentSuccess(ctx, ReconcileInput{
		AttemptID:   attemptID,
		PaidAmount:  amount,
		ProviderRef: transactionCode,
		ConfirmedBy: &confirmedBy,
	})
	if err != nil {
		var mismatch *MismatchError
		if errors.As(err, &mismatch) {
			metrics.ReconciliationsTotal.WithLabelValues("MANUAL", "mismatch").Inc()
			s.lg.Warn("Manual confirmation rejected", zap.String("attempt_id", attemptID), zap.Error(err))
		}
		return nil, err
	}
	metrics.ReconciliationsTotal.WithLabelValues("MANUAL", outcomeLabel(res)).Inc()
	return res, nil
}

func (s *paymentServiceImpl) ListAttempts(ctx context.Context, actor Actor, orderID string) ([]*model.Payment, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.Staff && !actor.owns(order.UserID) {
		return nil, ErrForbidden
	}
	return s.paymentRepo.ListBySubject(ctx, model.OrderRef{OrderID: order.ID})
}

func outcomeLabel(res *ReconcileResult) string {
	switch {
	case res.Late:
		return "late"
	case res.Applied:
		return "applied"
	}
	return "duplicate"
}
