package service

import (
	"context"
	"fmt"
	"net/url"
	"order-payment-service/internal/config"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/metrics"
	"order-payment-service/internal/model"
	"order-payment-service/internal/repository"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// CallbackOutcome is what a return or IPN endpoint needs to answer the
// provider and send the browser on.
type CallbackOutcome struct {
	Outcome     model.CallbackOutcome
	AttemptID   string
	SubjectID   string
	RedirectURL string
}

func (o *CallbackOutcome) Paid() bool {
	switch o.Outcome {
	case model.CallbackAccepted, model.CallbackDuplicate, model.CallbackLate:
		return true
	}
	return false
}

// Gateways are the verifying halves of the adapters. Any of them may be nil
// when the provider is not configured.
type Gateways struct {
	VNPay     *gateway.VNPay
	MoMo      *gateway.MoMo
	Paypal    *gateway.Paypal
	Braintree *gateway.Braintree
}

type CallbackService interface {
	HandleVNPay(ctx context.Context, params url.Values) (*CallbackOutcome, error)
	HandleMoMo(ctx context.Context, cb *gateway.MoMoCallback) (*CallbackOutcome, error)
	HandlePaypalReturn(ctx context.Context, paypalOrderID string) (*CallbackOutcome, error)
	HandlePaypalCancel(ctx context.Context, paypalOrderID string) (*CallbackOutcome, error)
	BraintreeClientToken(ctx context.Context) (string, error)
	HandleBraintreeCheckout(ctx context.Context, ref, nonce string) (*CallbackOutcome, error)
	ListCallbacks(ctx context.Context, staff Actor, outcome model.CallbackOutcome) ([]*model.GatewayCallback, error)
}

type callbackServiceImpl struct {
	gateways     Gateways
	payments     PaymentService
	paymentRepo  repository.PaymentRepository
	callbackRepo repository.GatewayCallbackRepository
	client       config.ClientURLs
	lg           *zap.Logger
}

func NewCallbackService(
	gateways Gateways,
	payments PaymentService,
	paymentRepo repository.PaymentRepository,
	callbackRepo repository.GatewayCallbackRepository,
	client config.ClientURLs,
	lg *zap.Logger,
) CallbackService {
	return &callbackServiceImpl{
		gateways:     gateways,
		payments:     payments,
		paymentRepo:  paymentRepo,
		callbackRepo: callbackRepo,
		client:       client,
		lg:           lg,
	}
}

var errProviderDisabled = errors.New("provider not configured")

func (s *callbackServiceImpl) HandleVNPay(ctx context.Context, params url.Values) (*CallbackOutcome, error) {
	if s.gateways.VNPay == nil {
		return nil, &gateway.Error{Provider: model.PaymentMethodVNPay, Op: "verify return", Err: errProviderDisabled}
	}

	result, err := s.gateways.VNPay.VerifyReturn(params)
	if err != nil {
		return s.reject(ctx, model.PaymentMethodVNPay, params.Get("vnp_TxnRef"), err)
	}
	return s.settle(ctx, model.PaymentMethodVNPay, result)
}

func (s *callbackServiceImpl) HandleMoMo(ctx context.Context, cb *gateway.MoMoCallback) (*CallbackOutcome, error) {
	if s.gateways.MoMo == nil {
		return nil, &gateway.Error{Provider: model.PaymentMethodMoMo, Op: "verify callback", Err: errProviderDisabled}
	}

	result, err := s.gateways.MoMo.VerifyCallback(cb)
	if err != nil {
		return s.reject(ctx, model.PaymentMethodMoMo, cb.ExtraData, err)
	}
	return s.settle(ctx, model.PaymentMethodMoMo, result)
}

func (s *callbackServiceImpl) HandlePaypalReturn(ctx context.Context, paypalOrderID string) (*CallbackOutcome, error) {
	if s.gateways.Paypal == nil {
		return nil, &gateway.Error{Provider: model.PaymentMethodPaypal, Op: "capture order", Err: errProviderDisabled}
	}
	if paypalOrderID == "" {
		return nil, &ValidationError{Field: "token", Reason: "required"}
	}

	// The capture call is authenticated, so its response is trusted as-is.
	result, err := s.gateways.Paypal.Capture(ctx, paypalOrderID)
	if err == nil {
		return s.settle(ctx, model.PaymentMethodPaypal, result)
	}

	// A replayed return URL fails the capture with ORDER_ALREADY_CAPTURED;
	// the order itself then tells whether the money is there.
	if captured, lookupErr := s.gateways.Paypal.GetOrder(ctx, paypalOrderID); lookupErr == nil && captured.Success {
		s.lg.Info("Paypal order already captured",
			zap.String("paypal_order_id", paypalOrderID),
			zap.Error(err),
		)
		return s.settle(ctx, model.PaymentMethodPaypal, captured)
	}

	s.record(ctx, &model.GatewayCallback{
		Provider:    model.PaymentMethodPaypal,
		ProviderRef: paypalOrderID,
		Outcome:     model.CallbackRejected,
		Detail:      truncate(err.Error()),
	})
	return nil, err
}

func (s *callbackServiceImpl) HandlePaypalCancel(ctx context.Context, paypalOrderID string) (*CallbackOutcome, error) {
	if s.gateways.Paypal == nil {
		return nil, &gateway.Error{Provider: model.PaymentMethodPaypal, Op: "get order", Err: errProviderDisabled}
	}

	result, err := s.gateways.Paypal.GetOrder(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}
	result.Success = false
	result.Message = "cancelled by buyer"
	return s.settle(ctx, model.PaymentMethodPaypal, result)
}

func (s *callbackServiceImpl) BraintreeClientToken(ctx context.Context) (string, error) {
	if s.gateways.Braintree == nil {
		return "", &gateway.Error{Provider: model.PaymentMethodBraintree, Op: "generate client token", Err: errProviderDisabled}
	}
	return s.gateways.Braintree.ClientToken(ctx)
}

// HandleBraintreeCheckout charges the nonce for the attempt named by ref.
// The amount always comes from the stored attempt, never from the client.
func (s *callbackServiceImpl) HandleBraintreeCheckout(ctx context.Context, ref, nonce string) (*CallbackOutcome, error) {
	if s.gateways.Braintree == nil {
		return nil, &gateway.Error{Provider: model.PaymentMethodBraintree, Op: "sale", Err: errProviderDisabled}
	}
	if nonce == "" {
		return nil, &ValidationError{Field: "nonce", Reason: "required"}
	}

	corr, err := gateway.DecodeCorrelation(ref)
	if err != nil {
		return nil, &ValidationError{Field: "ref", Reason: "malformed reference", Err: err}
	}

	attempt, err := s.paymentRepo.FindByID(ctx, nil, corr.AttemptID)
	if err != nil {
		return nil, notFound(err, "payment attempt")
	}
	if attempt.Method != model.PaymentMethodBraintree {
		s.record(ctx, &model.GatewayCallback{
			Provider:  model.PaymentMethodBraintree,
			AttemptID: attempt.ID,
			Outcome:   model.CallbackRejected,
			Detail:    "attempt was dispatched to " + string(attempt.Method),
		})
		return nil, &ValidationError{Field: "ref", Reason: "attempt is not a card payment"}
	}
	if !attempt.Status.IsOpen() {
		// already settled one way or another; don't charge the card twice
		outcome := model.CallbackDuplicate
		if attempt.Status != model.PaymentStatusPaid {
			outcome = model.CallbackRejected
		}
		s.record(ctx, &model.GatewayCallback{
			Provider:  model.PaymentMethodBraintree,
			AttemptID: attempt.ID,
			Outcome:   outcome,
			Detail:    "attempt is " + string(attempt.Status),
		})
		return s.outcome(outcome, attempt.ID, attempt.SubjectID), nil
	}

	result, err := s.gateways.Braintree.Sale(ctx, nonce, corr, attempt.Amount)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, model.PaymentMethodBraintree, result)
}

// ListCallbacks returns audited callbacks with the given outcome, e.g. the
// MISMATCH and LATE rows staff have to resolve by hand.
func (s *callbackServiceImpl) ListCallbacks(ctx context.Context, staff Actor, outcome model.CallbackOutcome) ([]*model.GatewayCallback, error) {
	if !staff.Staff {
		return nil, ErrForbidden
	}
	return s.callbackRepo.ListByOutcome(ctx, outcome)
}

// settle funnels a verified provider result into reconciliation and records
// what happened.
func (s *callbackServiceImpl) settle(ctx context.Context, provider model.PaymentMethod, result *gateway.Result) (*CallbackOutcome, error) {
	audit := &model.GatewayCallback{
		Provider:    provider,
		AttemptID:   result.Correlation.AttemptID,
		ProviderRef: result.ProviderRef,
		ResultCode:  result.Code,
		Amount:      result.Amount,
	}

	if !result.Success {
		reason := fmt.Sprintf("gateway code %s", result.Code)
		if result.Message != "" {
			reason += ": " + result.Message
		}
		res, err := s.payments.ReconcilePaymentFailure(ctx, result.Correlation.AttemptID, truncate(reason))
		if err != nil {
			audit.Outcome = model.CallbackRejected
			audit.Detail = truncate(err.Error())
			s.record(ctx, audit)
			return nil, err
		}
		audit.Outcome = model.CallbackFailed
		audit.Detail = truncate(reason)
		s.record(ctx, audit)
		metrics.ReconciliationsTotal.WithLabelValues(string(provider), "failed").Inc()
		return s.outcome(model.CallbackFailed, result.Correlation.AttemptID, res.Subject.ID()), nil
	}

	res, err := s.payments.ReconcilePaymentSuccess(ctx, ReconcileInput{
		AttemptID:   result.Correlation.AttemptID,
		PaidAmount:  result.Amount,
		ProviderRef: result.ProviderRef,
	})
	if err != nil {
		audit.Outcome = model.CallbackRejected
		if IsReconciliationMismatch(err) {
			audit.Outcome = model.CallbackMismatch
			s.lg.Warn("Gateway amount mismatch",
				zap.String("provider", string(provider)),
				zap.String("attempt_id", result.Correlation.AttemptID),
				zap.Error(err),
			)
		}
		audit.Detail = truncate(err.Error())
		s.record(ctx, audit)
		metrics.ReconciliationsTotal.WithLabelValues(string(provider), "rejected").Inc()
		return nil, err
	}

	switch {
	case res.Late:
		audit.Outcome = model.CallbackLate
		audit.Detail = "paid after cancellation, refund required"
	case res.Applied:
		audit.Outcome = model.CallbackAccepted
	default:
		audit.Outcome = model.CallbackDuplicate
	}
	s.record(ctx, audit)
	metrics.ReconciliationsTotal.WithLabelValues(string(provider), outcomeLabel(res)).Inc()

	return s.outcome(audit.Outcome, res.Attempt.ID, res.Subject.ID()), nil
}

// reject records a callback that failed verification. Nothing is written to
// the attempt or its subject.
func (s *callbackServiceImpl) reject(ctx context.Context, provider model.PaymentMethod, ref string, cause error) (*CallbackOutcome, error) {
	s.lg.Warn("Gateway callback rejected",
		zap.String("provider", string(provider)),
		zap.String("ref", ref),
		zap.Error(cause),
	)

	audit := &model.GatewayCallback{
		Provider: provider,
		Outcome:  model.CallbackRejected,
		Detail:   truncate(cause.Error()),
	}
	if corr, err := gateway.DecodeCorrelation(ref); err == nil {
		audit.AttemptID = corr.AttemptID
	}
	s.record(ctx, audit)
	metrics.ReconciliationsTotal.WithLabelValues(string(provider), "rejected").Inc()

	if errors.Is(cause, gateway.ErrInvalidSignature) {
		return nil, cause
	}
	return nil, &ValidationError{Field: "callback", Reason: "malformed callback", Err: cause}
}

func (s *callbackServiceImpl) record(ctx context.Context, cb *model.GatewayCallback) {
	if err := s.callbackRepo.Record(ctx, cb); err != nil {
		s.lg.Error("Failed to record gateway callback",
			zap.String("provider", string(cb.Provider)),
			zap.String("attempt_id", cb.AttemptID),
			zap.Error(err),
		)
	}
}

func (s *callbackServiceImpl) outcome(outcome model.CallbackOutcome, attemptID, subjectID string) *CallbackOutcome {
	out := &CallbackOutcome{Outcome: outcome, AttemptID: attemptID, SubjectID: subjectID}

	base := s.client.FailureURL
	if out.Paid() {
		base = s.client.SuccessURL
	}
	q := url.Values{}
	q.Set("orderId", subjectID)
	q.Set("status", string(outcome))
	out.RedirectURL = base + "?" + q.Encode()
	return out
}

// FailureRedirect is where the browser goes when the callback could not be
// processed at all.
func FailureRedirect(client config.ClientURLs, reason string) string {
	q := url.Values{}
	q.Set("status", string(model.CallbackRejected))
	if reason != "" {
		q.Set("reason", reason)
	}
	return client.FailureURL + "?" + q.Encode()
}

func truncate(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
