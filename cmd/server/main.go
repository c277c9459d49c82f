package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/api"
	"github.com/notifyhub/push-worker/internal/auth"
	"github.com/notifyhub/push-worker/internal/config"
	"github.com/notifyhub/push-worker/internal/db"
	"github.com/notifyhub/push-worker/internal/lease"
	"github.com/notifyhub/push-worker/internal/metrics"
	"github.com/notifyhub/push-worker/internal/provider"
	"github.com/notifyhub/push-worker/internal/ratelimiter"
	"github.com/notifyhub/push-worker/internal/repository"
	"github.com/notifyhub/push-worker/internal/service"
	"github.com/notifyhub/push-worker/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	logger = logger.With(zap.String("worker_id", cfg.WorkerID))

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.WorkerHooks()

	tasks := repository.NewPgTaskRepository(pool)
	endpoints := repository.NewPgEndpointRepository(pool)
	locks := repository.NewPgLockRepository(pool)

	gateway := provider.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout)
	limiter := ratelimiter.New(cfg.GatewayRateLimit)
	svc := service.NewTaskService(tasks, endpoints, cfg.ShardCount, logger)

	drainer := worker.NewDrainer(
		tasks, endpoints,
		lease.NewRunLock(locks, cfg.WorkerID, cfg.LockTTL, logger),
		lease.NewManager(tasks, cfg.WorkerID, cfg.LeaseTTL, logger),
		worker.NewExpander(endpoints, cfg.ExpandConcurrency, logger),
		worker.NewDispatcher(gateway, limiter, cfg.GatewayBatchSize, cfg.SendConcurrency, logger, hooks),
		worker.NewFinalizer(tasks, cfg.FinalizeBatchSize, logger, hooks),
		worker.Options{
			PageSize:          cfg.TaskPageSize,
			StaleAfter:        cfg.StaleAfter,
			DeleteConcurrency: cfg.DeleteConcurrency,
			MaxAttempts:       cfg.MaxAttempts,
		},
		logger, hooks,
	)

	keys := auth.NewKeyCache(auth.FileLoader(cfg.JWTPublicKeyPath), cfg.JWTKeyTTL)
	if _, err := keys.Refresh(ctx); err != nil {
		// the trigger answers 401 until the key becomes readable
		logger.Warn("kick public key not loaded", zap.String("path", cfg.JWTPublicKeyPath), zap.Error(err))
	}
	verifier := auth.NewVerifier(keys, cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTAudience)

	// ---- timer trigger ----
	// Context for background drains; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	timer, err := worker.NewTimer(cfg.TimerSchedule, drainer, cfg.ShardCount, cfg.TimerBudget, logger)
	if err != nil {
		logger.Fatal("failed to build timer", zap.Error(err))
	}
	if err := timer.Start(workerCtx); err != nil {
		logger.Fatal("failed to start timer", zap.Error(err))
	}

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Drainer:    drainer,
		Stats:      svc,
		Verifier:   verifier,
		DB:         pool,
		Gatherer:   reg,
		ShardCount: cfg.ShardCount,
		KickBudget: cfg.KickBudget,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("shards", cfg.ShardCount),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests; in-flight kicks finish their round.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop timer drains from starting new rounds.
	cancelWorkers()

	// 3. Wait for a running timer drain to release its locks.
	timer.Stop()

	logger.Info("server stopped cleanly")
}
