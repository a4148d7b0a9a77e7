package server

import (
	"context"
	"net/http"
	"order-payment-service/internal/config"
	"order-payment-service/internal/handler"
	appmw "order-payment-service/internal/middleware"
	"order-payment-service/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// callbackRate caps requests per second per client IP on provider endpoints.
const callbackRate = 20

type Deps struct {
	Orders    service.OrderService
	Payments  service.PaymentService
	Callbacks service.CallbackService
	JWTSecret []byte
	Client    config.ClientURLs
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

type Server struct {
	echo            *echo.Echo
	jwtSecret       []byte
	gatherer        prometheus.Gatherer
	orderHandler    *handler.OrderHandler
	paymentHandler  *handler.PaymentHandler
	callbackHandler *handler.CallbackHandler
}

func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(requestLogger(deps.Logger)))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:            e,
		jwtSecret:       deps.JWTSecret,
		gatherer:        deps.Gatherer,
		orderHandler:    handler.NewOrderHandler(deps.Orders),
		paymentHandler:  handler.NewPaymentHandler(deps.Payments),
		callbackHandler: handler.NewCallbackHandler(deps.Callbacks, deps.Client, deps.Logger),
	}

	s.setupRoutes()
	return s
}

func requestLogger(lg *zap.Logger) middleware.RequestLoggerConfig {
	return middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.RequestID != "" {
				fields = append(fields, zap.String("request_id", v.RequestID))
			}
			if v.Error != nil {
				lg.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			lg.Info("request", fields...)
			return nil
		},
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := appmw.AuthMiddleware(s.jwtSecret)
	staff := appmw.RequireStaff()

	// -------- orders --------
	orders := api.Group("/orders", auth)
	orders.POST("", s.orderHandler.PlaceOrder)
	orders.GET("/:id", s.orderHandler.GetOrder)
	orders.PATCH("/:id/status", s.orderHandler.UpdateStatus, staff)
	orders.POST("/:id/cancel", s.orderHandler.CancelOrder)
	orders.POST("/:id/return", s.orderHandler.RequestReturn)
	orders.POST("/:id/payment/retry", s.paymentHandler.RetryPayment)
	orders.PUT("/:id/payment/method", s.paymentHandler.ChangeMethod)
	orders.GET("/:id/payments", s.paymentHandler.ListAttempts)

	api.POST("/reservations/:id/deposit", s.paymentHandler.ReservationDeposit, auth)

	// -------- payments --------
	payments := api.Group("/payments")
	payments.POST("/confirm", s.paymentHandler.ConfirmManual, auth, staff)
	payments.GET("/callbacks", s.callbackHandler.ListCallbacks, auth, staff)

	// -------- gateway returns / IPN --------
	callbacks := payments.Group("", middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(callbackRate))))
	callbacks.GET("/vnpay/return", s.callbackHandler.VNPayReturn)
	callbacks.GET("/vnpay/ipn", s.callbackHandler.VNPayIPN)
	callbacks.GET("/momo/return", s.callbackHandler.MoMoReturn)
	callbacks.POST("/momo/ipn", s.callbackHandler.MoMoIPN)
	callbacks.GET("/paypal/return", s.callbackHandler.PaypalReturn)
	callbacks.GET("/paypal/cancel", s.callbackHandler.PaypalCancel)
	callbacks.GET("/braintree/client-token", s.callbackHandler.BraintreeClientToken)
	callbacks.POST("/braintree/checkout", s.callbackHandler.BraintreeCheckout)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
