package main

import (
	"context"
	"fmt"
	"net/http"
	"order-payment-service/internal/client"
	"order-payment-service/internal/config"
	"order-payment-service/internal/deferred"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/logger"
	"order-payment-service/internal/metrics"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/repository"
	"order-payment-service/internal/server"
	"order-payment-service/internal/service"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := client.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "init database")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	orderRepo := repository.NewOrderRepository(db)
	dishRepo := repository.NewDishRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)

	gateways, registry := buildGateways(cfg, lg)

	checks := deferred.New(lg)
	defer checks.Stop()
	notifier := notify.NewBestEffort(notify.NewLogSink(lg), lg)
	settings := service.NewSettings(cfg.Payment)

	paymentService := service.NewPaymentService(
		db,
		orderRepo,
		paymentRepo,
		repository.NewReservationRepository(db),
		registry,
		gateway.NewBankTransfer(cfg.Bank),
		checks,
		notifier,
		settings,
		lg,
	)

	orderService := service.NewOrderService(service.OrderServiceDeps{
		DB:          db,
		OrderRepo:   orderRepo,
		DishRepo:    dishRepo,
		CartRepo:    repository.NewCartRepository(db),
		AddressRepo: repository.NewAddressRepository(db),
		VoucherRepo: voucherRepo,
		LoyaltyRepo: repository.NewLoyaltyRepository(db),
		PaymentRepo: paymentRepo,
		Vouchers:    service.NewRepoVoucherValidator(voucherRepo),
		Loyalty:     service.NewFlatRatePolicy(cfg.Payment.LoyaltyAmountPerPoint),
		Payments:    paymentService,
		Checks:      checks,
		Notifier:    notifier,
		Settings:    settings,
		Logger:      lg,
	})

	callbackService := service.NewCallbackService(
		gateways,
		paymentService,
		paymentRepo,
		repository.NewGatewayCallbackRepository(db),
		cfg.Client,
		lg,
	)

	sweeper := service.NewTimeoutSweeper(db, orderRepo, dishRepo, paymentRepo, checks, notifier, settings, lg)

	srv := server.NewServer(server.Deps{
		Orders:    orderService,
		Payments:  paymentService,
		Callbacks: callbackService,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Client:    cfg.Client,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    lg,
	})

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Starting HTTP server", zap.String("addr", serverAddr))
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildGateways wires only the providers that have credentials.
func buildGateways(cfg *config.Config, lg *zap.Logger) (service.Gateways, *gateway.Registry) {
	var (
		gws      service.Gateways
		adapters []gateway.Adapter
	)

	if cfg.VNPay.TmnCode != "" {
		gws.VNPay = gateway.NewVNPay(&cfg.VNPay, cfg.BaseURL)
		adapters = append(adapters, gws.VNPay)
	}
	if cfg.MoMo.PartnerCode != "" {
		gws.MoMo = gateway.NewMoMo(&cfg.MoMo, cfg.BaseURL, cfg.Payment.GatewayTimeout)
		adapters = append(adapters, gws.MoMo)
	}
	if cfg.Paypal.ClientID != "" {
		gws.Paypal = gateway.NewPaypal(&cfg.Paypal, cfg.BaseURL, cfg.Payment.USDRate, cfg.Payment.GatewayTimeout)
		adapters = append(adapters, gws.Paypal)
	}
	if cfg.BrainTree.MerchantID != "" {
		gws.Braintree = gateway.NewBraintree(gateway.NewBraintreeAPI(&cfg.BrainTree), cfg.BrainTree.CheckoutURL, cfg.Payment.USDRate)
		adapters = append(adapters, gws.Braintree)
	}

	for _, a := range adapters {
		lg.Info("payment gateway enabled", zap.String("method", string(a.Method())))
	}
	return gws, gateway.NewRegistry(adapters...)
}
