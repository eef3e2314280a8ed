// Package app wires config into the running services. Both the HTTP server
// and schoolpayctl build from here.
package app

import (
	"context"
	"fmt"

	"schoolpay/config"
	"schoolpay/internal/database"
	"schoolpay/internal/repository"
	"schoolpay/internal/service"
	"schoolpay/internal/ws"
	"schoolpay/pkg/payment"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      *repository.Store
	Gateway    payment.Gateway
	Hub        *ws.Hub
	Payments   *service.PaymentService
	Disputes   *service.DisputeService
	Reconciler *service.Reconciler
	Logger     *zap.Logger

	redis *redis.Client
}

// New opens the database, migrates it and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	gw, err := payment.NewGateway(payment.Options{
		Provider:          cfg.Gateway.Provider,
		BaseURL:           cfg.Gateway.BaseURL,
		Email:             cfg.Gateway.Email,
		Password:          cfg.Gateway.Password,
		WebhookSecret:     cfg.Gateway.WebhookSecret,
		CallbackURL:       cfg.Gateway.CallbackURL(),
		Timeout:           cfg.Gateway.Timeout,
		MockSuccessWeight: cfg.Gateway.MockSuccessWeight,
		MockFailureWeight: cfg.Gateway.MockFailureWeight,
		MockPendingWeight: cfg.Gateway.MockPendingWeight,
		MockSeed:          cfg.Gateway.MockSeed,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	logger.Info("payment gateway ready", zap.String("provider", gw.Name()))

	a := &App{Config: cfg, DB: db, Store: repository.NewStore(db), Gateway: gw, Hub: ws.NewHub(), Logger: logger}

	fcm := service.NewFCMService(ctx, cfg.Firebase.ServiceAccountPath, logger)
	if fcm != nil {
		logger.Info("push notifications enabled")
	}
	notifier := service.NewNotificationService(a.Hub, fcm, logger)

	a.Payments = service.NewPaymentService(a.Store, gw, notifier, service.PaymentConfig{
		Currency:        cfg.Gateway.Currency,
		GatewayTimeout:  cfg.Gateway.Timeout,
		EscalationAfter: cfg.Reconciler.EscalationAfter,
		InitiatedGrace:  cfg.Reconciler.InitiatedGrace,
	}, logger)
	a.Disputes = service.NewDisputeService(a.Store, notifier, logger)

	var lease service.Lease
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, reconciler lease will fail until it recovers", zap.Error(err))
		}
		lease = service.NewRedisLease(a.redis, "", cfg.Reconciler.LeaseTTL)
	}
	a.Reconciler = service.NewReconciler(a.Payments, lease, service.ReconcilerConfig{
		Interval:  cfg.Reconciler.Interval,
		BatchSize: cfg.Reconciler.BatchSize,
	}, logger)
	return a, nil
}

// Close stops the reconciler and releases connections.
func (a *App) Close() {
	a.Reconciler.Stop()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
