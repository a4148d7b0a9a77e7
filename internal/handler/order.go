package handler

import (
	"net/http"
	"order-payment-service/internal/dto"
	"order-payment-service/internal/middleware"
	"order-payment-service/internal/model"
	"order-payment-service/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	orderService service.OrderService
}

func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

func (h *OrderHandler) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()
	actor := middleware.ActorFrom(c)

	var req dto.PlaceOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.orderService.PlaceOrder(ctx, req.ToInput(actor.UserID, c.RealIP()))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, &dto.PlaceOrderResponse{
		Order:        dto.NewOrderResponse(res.Order),
		Payment:      res.Payment,
		PaymentError: res.DispatchError,
	})
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.orderService.GetOrder(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}

func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	target := model.OrderStatus(req.Status)
	if !target.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	order, err := h.orderService.UpdateOrderStatus(ctx, middleware.ActorFrom(c), c.Param("id"), target, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	order, err := h.orderService.CancelOrder(ctx, middleware.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}

func (h *OrderHandler) RequestReturn(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	order, err := h.orderService.RequestReturn(ctx, middleware.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}
