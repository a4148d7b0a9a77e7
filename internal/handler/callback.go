package handler

import (
	"net/http"
	"order-payment-service/internal/config"
	"order-payment-service/internal/dto"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/middleware"
	"order-payment-service/internal/model"
	"order-payment-service/internal/service"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CallbackHandler serves the provider-facing endpoints: browser returns,
// server-to-server IPNs and the Braintree drop-in checkout.
type CallbackHandler struct {
	callbackService service.CallbackService
	client          config.ClientURLs
	lg              *zap.Logger
}

func NewCallbackHandler(callbackService service.CallbackService, client config.ClientURLs, lg *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackService: callbackService,
		client:          client,
		lg:              lg,
	}
}

// redirect sends the browser to the client app whatever happened.
func (h *CallbackHandler) redirect(c echo.Context, provider string, out *service.CallbackOutcome, err error) error {
	if err != nil {
		h.lg.Warn("gateway return not processed",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return c.Redirect(http.StatusFound, service.FailureRedirect(h.client, reasonOf(err)))
	}
	return c.Redirect(http.StatusFound, out.RedirectURL)
}

func reasonOf(err error) string {
	var mismatch *service.MismatchError
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		return "invalid_signature"
	case errors.As(err, &mismatch):
		return "amount_mismatch"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	}
	return "error"
}

func (h *CallbackHandler) VNPayReturn(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.callbackService.HandleVNPay(ctx, c.QueryParams())
	return h.redirect(c, "vnpay", out, err)
}

// VNPayIPN always answers 200; VNPay reads the verdict from RspCode.
func (h *CallbackHandler) VNPayIPN(c echo.Context) error {
	ctx := c.Request().Context()

	out, err := h.callbackService.HandleVNPay(ctx, c.QueryParams())

	var mismatch *service.MismatchError
	resp := dto.VNPayIPNResponse{RspCode: "00", Message: "Confirm Success"}
	switch {
	case err == nil && out.Outcome == model.CallbackDuplicate:
		resp = dto.VNPayIPNResponse{RspCode: "02", Message: "Order already confirmed"}
	case err == nil:
	case errors.Is(err, gateway.ErrInvalidSignature):
		resp = dto.VNPayIPNResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, service.ErrNotFound):
		resp = dto.VNPayIPNResponse{RspCode: "01", Message: "Order not found"}
	case errors.As(err, &mismatch):
		resp = dto.VNPayIPNResponse{RspCode: "04", Message: "Invalid amount"}
	default:
		h.lg.Error("vnpay ipn failed", zap.Error(err))
		resp = dto.VNPayIPNResponse{RspCode: "99", Message: "Unknown error"}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *CallbackHandler) MoMoReturn(c echo.Context) error {
	ctx := c.Request().Context()

	var cb gateway.MoMoCallback
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &cb); err != nil {
		return c.Redirect(http.StatusFound, service.FailureRedirect(h.client, "invalid_callback"))
	}

	out, err := h.callbackService.HandleMoMo(ctx, &cb)
	return h.redirect(c, "momo", out, err)
}

// MoMoIPN answers 204 once the notification is recorded. A 5xx makes MoMo
// deliver it again.
func (h *CallbackHandler) MoMoIPN(c echo.Context) error {
	ctx := c.Request().Context()

	var cb gateway.MoMoCallback
	if err := c.Bind(&cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if _, err := h.callbackService.HandleMoMo(ctx, &cb); err != nil {
		if service.IsReconciliationMismatch(err) || service.IsClientError(err) || errors.Is(err, service.ErrNotFound) {
			return httpError(err)
		}
		h.lg.Error("momo ipn failed", zap.String("order_id", cb.OrderID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retry later").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CallbackHandler) PaypalReturn(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		return c.Redirect(http.StatusFound, service.FailureRedirect(h.client, "missing_token"))
	}

	out, err := h.callbackService.HandlePaypalReturn(ctx, token)
	return h.redirect(c, "paypal", out, err)
}

func (h *CallbackHandler) PaypalCancel(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		return c.Redirect(http.StatusFound, service.FailureRedirect(h.client, "missing_token"))
	}

	out, err := h.callbackService.HandlePaypalCancel(ctx, token)
	return h.redirect(c, "paypal", out, err)
}

func (h *CallbackHandler) BraintreeClientToken(c echo.Context) error {
	ctx := c.Request().Context()

	token, err := h.callbackService.BraintreeClientToken(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"client_token": token})
}

func (h *CallbackHandler) BraintreeCheckout(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.BraintreeCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	out, err := h.callbackService.HandleBraintreeCheckout(ctx, req.Ref, req.Nonce)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, &dto.CallbackResponse{
		Outcome:     string(out.Outcome),
		AttemptID:   out.AttemptID,
		OrderID:     out.SubjectID,
		RedirectURL: out.RedirectURL,
	})
}

// ListCallbacks is the staff audit view, filtered by ?outcome=.
func (h *CallbackHandler) ListCallbacks(c echo.Context) error {
	ctx := c.Request().Context()

	list, err := h.callbackService.ListCallbacks(ctx, middleware.ActorFrom(c), model.CallbackOutcome(c.QueryParam("outcome")))
	if err != nil {
		return httpError(err)
	}

	resp := make([]*dto.GatewayCallbackResponse, 0, len(list))
	for _, cb := range list {
		resp = append(resp, &dto.GatewayCallbackResponse{
			ID:          cb.ID,
			Provider:    string(cb.Provider),
			AttemptID:   cb.AttemptID,
			ProviderRef: cb.ProviderRef,
			ResultCode:  cb.ResultCode,
			Amount:      cb.Amount,
			Outcome:     string(cb.Outcome),
			Detail:      cb.Detail,
			CreatedAt:   cb.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
