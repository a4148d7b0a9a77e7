package handler

import (
	"net/http"
	"order-payment-service/internal/dto"
	"order-payment-service/internal/middleware"
	"order-payment-service/internal/model"
	"order-payment-service/internal/service"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) RetryPayment(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.paymentService.RetryPayment(ctx, middleware.ActorFrom(c), c.Param("id"), service.ClientContext{IP: c.RealIP()})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) ChangeMethod(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ChangeMethodRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	method := model.PaymentMethod(req.PaymentMethod)
	if !method.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown payment method")
	}

	res, err := h.paymentService.ChangePaymentMethod(ctx, middleware.ActorFrom(c), c.Param("id"), method, service.ClientContext{IP: c.RealIP()})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) ListAttempts(c echo.Context) error {
	ctx := c.Request().Context()

	attempts, err := h.paymentService.ListAttempts(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	resp := make([]*dto.PaymentAttemptResponse, 0, len(attempts))
	for _, p := range attempts {
		resp = append(resp, dto.NewPaymentAttemptResponse(p))
	}
	return c.JSON(http.StatusOK, resp)
}

// ConfirmManual records a bank transfer or cash payment seen by staff.
func (h *PaymentHandler) ConfirmManual(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ConfirmPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AttemptID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "attempt_id is required")
	}

	res, err := h.paymentService.ConfirmManual(ctx, middleware.ActorFrom(c), req.AttemptID, req.Amount, req.TransactionCode)
	if err != nil {
		return httpError(err)
	}

	resp := &dto.ConfirmPaymentResponse{
		AttemptID: res.Attempt.ID,
		Applied:   res.Applied,
		Late:      res.Late,
	}
	if res.Subject != nil {
		resp.SubjectID = res.Subject.ID()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PaymentHandler) ReservationDeposit(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ChangeMethodRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.paymentService.DispatchReservationDeposit(ctx, middleware.ActorFrom(c), c.Param("id"),
		model.PaymentMethod(req.PaymentMethod), service.ClientContext{IP: c.RealIP()})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
