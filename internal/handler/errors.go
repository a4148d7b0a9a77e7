package handler

import (
	"net/http"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/service"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"
)

// httpError maps a service error onto a status code. Anything unknown is a
// 500 with the detail left to the request logger.
func httpError(err error) error {
	var (
		validation *service.ValidationError
		stock      *service.InsufficientStockError
		transition *service.InvalidTransitionError
		mismatch   *service.MismatchError
		gwErr      *gateway.Error
	)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case errors.Is(err, service.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden").SetInternal(err)
	case errors.As(err, &stock):
		return echo.NewHTTPError(http.StatusConflict, stock.Error()).SetInternal(err)
	case errors.As(err, &transition):
		return echo.NewHTTPError(http.StatusConflict, transition.Error()).SetInternal(err)
	case errors.Is(err, service.ErrPaymentClosed), errors.Is(err, service.ErrStalePrecondition):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error()).SetInternal(err)
	case errors.As(err, &mismatch), errors.Is(err, gateway.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.As(err, &gwErr):
		return echo.NewHTTPError(http.StatusBadGateway, "payment provider unavailable").SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
