package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bkouassi/marchefrais-backend/api/routes"
	"github.com/bkouassi/marchefrais-backend/internal/deliveryfee"
	"github.com/bkouassi/marchefrais-backend/internal/dispatch"
	"github.com/bkouassi/marchefrais-backend/internal/orders"
	"github.com/bkouassi/marchefrais-backend/internal/payments"
	"github.com/bkouassi/marchefrais-backend/internal/stock"
	"github.com/bkouassi/marchefrais-backend/internal/weights"
	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/courier"
	"github.com/bkouassi/marchefrais-backend/pkg/db"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/metrics"
	"github.com/bkouassi/marchefrais-backend/pkg/paygate"
	"github.com/bkouassi/marchefrais-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	var gateway payments.Gateway
	if cfg.Payment.BaseURL != "" {
		client, err := paygate.NewClient(cfg.Payment.BaseURL, cfg.Payment.APIKey, paygate.WithTimeout(cfg.Payment.Timeout))
		if err != nil {
			logg.Error(context.Background(), "failed to create payment gateway client", err)
			os.Exit(1)
		}
		gateway = client
	} else {
		logg.Warn(context.Background(), "payment gateway not configured, running cash-only")
	}

	var courierAPI dispatch.CourierAPI
	if cfg.Dispatch.BaseURL != "" {
		client, err := courier.NewClient(cfg.Dispatch.BaseURL, cfg.Dispatch.APIKey, courier.WithTimeout(cfg.Dispatch.Timeout))
		if err != nil {
			logg.Error(context.Background(), "failed to create courier client", err)
			os.Exit(1)
		}
		courierAPI = client
	} else {
		logg.Warn(context.Background(), "dispatch gateway not configured, deliveries stay manual")
	}

	stockMgr, err := stock.NewManager(dbClient, cfg.Stock)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock manager", err)
		os.Exit(1)
	}

	feeOpts := []deliveryfee.Option{
		deliveryfee.WithLogger(logg),
		deliveryfee.WithCache(deliveryfee.NewRedisQuoteCache(redisClient, cfg.FeeQuote.CacheTTL)),
	}
	if pricing := deliveryfee.NewHTTPPricingClient(cfg.FeeQuote); pricing != nil {
		feeOpts = append(feeOpts, deliveryfee.WithPricingClient(pricing))
	}
	feeCalc := deliveryfee.NewCalculator(cfg.Delivery, feeOpts...)

	weightsSvc, err := weights.NewService(dbClient, cfg.Weights)
	if err != nil {
		logg.Error(context.Background(), "failed to create weights service", err)
		os.Exit(1)
	}

	paymentsOrch, err := payments.NewOrchestrator(dbClient, gateway, redisClient, paymentMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment orchestrator", err)
		os.Exit(1)
	}

	dispatchAdapter, err := dispatch.NewAdapter(dbClient, courierAPI, cfg.Dispatch, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatch adapter", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, stockMgr, feeCalc, paymentsOrch, dispatchAdapter, redisClient, cfg.Weights, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			ordersRepo,
			ordersSvc,
			weightsSvc,
			paymentsOrch,
			dispatchAdapter,
			stockMgr,
			paymentMetrics,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
