package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-checkout/config"
	"storefront-checkout/internal/api"
	"storefront-checkout/internal/broker"
	"storefront-checkout/internal/gateway"
	"storefront-checkout/internal/money"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/redisclient"
	"storefront-checkout/internal/service"
	"storefront-checkout/internal/store"
	"storefront-checkout/internal/util"
	"storefront-checkout/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront checkout service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	policy, err := pricingPolicy(cfg.Business)
	if err != nil {
		logger.Fatal("Invalid pricing configuration", zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	checks := []api.ReadinessCheck{{Name: "postgres", Check: db.Ping}}

	var idempotency service.IdempotencyStore
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, idempotency keys disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		idempotency = redisClient
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: redisClient.Ping})
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	paymentTimeout := time.Duration(cfg.Gateway.PaymentTimeoutSeconds) * time.Second
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, paymentTimeout)

	orderService := service.NewOrderService(db, gatewayClient, idempotency, service.Options{
		Currency:               cfg.Business.Currency,
		MaxLineQuantity:        cfg.Business.MaxLineQuantity,
		Policy:                 policy,
		CommitMaxRetries:       cfg.Business.CommitMaxRetries,
		OrderNumberMaxAttempts: cfg.Business.OrderNumberMaxAttempts,
		CouponStrictLimit:      cfg.Business.CouponStrictLimit,
		PaymentTimeout:         paymentTimeout,
		IdempotencyTTL:         time.Duration(cfg.Business.IdempotencyTTLSeconds) * time.Second,
		IdempotencyPendingTTL:  time.Duration(cfg.Business.IdempotencyPendingTTLSeconds) * time.Second,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	relay := worker.NewOutboxRelay(db, eventPublisher, time.Duration(cfg.Business.OutboxPollIntervalMS)*time.Millisecond)
	go func() {
		if err := relay.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Outbox relay error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, cfg.Auth.JWTSecret, cfg.Business.Currency, checks...)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	relay.Stop()
	workerCancel()

	logger.Info("Server exited")
}

func pricingPolicy(b config.BusinessConfig) (pricing.Policy, error) {
	flat, err := money.ParseCents(b.FlatShipping)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("FLAT_SHIPPING: %w", err)
	}
	threshold, err := money.ParseCents(b.FreeShippingThreshold)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("FREE_SHIPPING_THRESHOLD: %w", err)
	}
	rate, err := money.ParseRate(b.TaxRatePercent)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("TAX_RATE_PERCENT: %w", err)
	}
	return pricing.Policy{
		FlatShippingCents:          flat,
		FreeShippingThresholdCents: threshold,
		TaxRatePercent:             rate,
	}, nil
}
