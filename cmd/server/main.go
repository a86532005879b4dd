package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtutila/midnight-dega-sub002/config"
	"github.com/dtutila/midnight-dega-sub002/internal/audit"
	"github.com/dtutila/midnight-dega-sub002/internal/handler"
	"github.com/dtutila/midnight-dega-sub002/internal/repository"
	"github.com/dtutila/midnight-dega-sub002/internal/router"
	"github.com/dtutila/midnight-dega-sub002/internal/usecase/reconcile"
	"github.com/dtutila/midnight-dega-sub002/internal/usecase/registry"
	"github.com/dtutila/midnight-dega-sub002/internal/usecase/transfer"
	"github.com/dtutila/midnight-dega-sub002/internal/wallet"
	"github.com/dtutila/midnight-dega-sub002/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, relying on system env vars")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting shielded transfer service")

	cfg := config.Load()

	dbConnStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	dbPool, err := pgxpool.New(context.Background(), dbConnStr)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

	ledger := repository.NewTransactionRepository(dbPool)
	tokens := repository.NewTokenRepository(dbPool)

	var recorder audit.Recorder = audit.NopRecorder{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaRecorder := audit.NewKafkaRecorder(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kafkaRecorder.Close()
		recorder = kafkaRecorder
		logger.Info("audit recorder connected",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		logger.Warn("no kafka brokers configured, audit events will be discarded")
	}

	var idemCache transfer.IdempotencyCache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		idemCache = redisCache
	} else {
		logger.Warn("no redis configured, idempotency lookups hit the database")
	}

	session, err := wallet.NewDaemonSession(wallet.DaemonConfig{
		BaseURL:            cfg.Wallet.DaemonURL,
		RequestTimeout:     cfg.Wallet.RequestTimeout,
		ConfirmationBuffer: cfg.Wallet.ConfirmationBuffer,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open wallet session", zap.Error(err))
	}
	defer session.Close()

	registrySvc := registry.NewService(tokens, recorder, logger)

	if cfg.Tokens.Bootstrap != "" {
		results := registrySvc.RegisterFromConfigString(context.Background(), cfg.Tokens.Bootstrap)
		for _, res := range results {
			if res.Error != "" {
				logger.Warn("bootstrap token not registered",
					zap.String("name", res.Name),
					zap.String("error", res.Error))
			}
		}
	}

	transferSvc := transfer.NewService(ledger, tokens, session, recorder, idemCache, transfer.Config{
		QueueDepth: cfg.Transfer.QueueDepth,
		Retry: transfer.RetryPolicy{
			MaxAttempts: cfg.Transfer.MaxAttempts,
			BaseDelay:   cfg.Transfer.RetryBaseDelay,
			MaxDelay:    cfg.Transfer.RetryMaxDelay,
		},
	}, logger)
	transferSvc.Start()

	reconciler := reconcile.New(ledger, session.Confirmations(), recorder, reconcile.Config{
		SweepInterval:       cfg.Reconcile.SweepInterval,
		ConfirmationTimeout: cfg.Reconcile.ConfirmationTimeout,
	}, logger)

	reconcileCtx, stopReconciler := context.WithCancel(context.Background())
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(reconcileCtx)
	}()

	transferHandler := handler.NewTransferHandler(transferSvc, session, logger)
	tokenHandler := handler.NewTokenHandler(registrySvc, logger)
	r := router.SetupRoutes(transferHandler, tokenHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("shielded transfer service started",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Drain admitted transfers before stopping reconciliation so their
	// SENT records can still pick up early confirmations.
	transferSvc.Close()
	stopReconciler()
	<-reconcilerDone

	logger.Info("server stopped")
}
