package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"gatepass-backend/config"
	"gatepass-backend/internal/api"
	"gatepass-backend/internal/db"
	"gatepass-backend/internal/logging"
	"gatepass-backend/internal/metrics"
	"gatepass-backend/internal/mw"
	"gatepass-backend/internal/notification"
	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/scheduler"
	"gatepass-backend/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	appMetrics := metrics.New()

	var webpushOptions *webpush.Options
	var pool *notification.WorkerPool
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
	} else {
		logger.Warn("VAPID keys are not configured, admins will only receive inbox notifications")
	}

	clock := overstay.SystemClock{}
	sink := notification.NewInboxSink(appStore, pool, clock.Now)
	detector := overstay.NewDetector(overstay.DetectorDeps{
		Events:     appStore,
		Flags:      appStore,
		Recipients: appStore,
		Sink:       sink,
		Clock:      clock,
		Logger:     logger,
		Metrics:    appMetrics,
	})
	reconciler := overstay.NewReconciler(appStore, logger, appMetrics)
	svc := overstay.NewService(appStore, appStore, detector, reconciler, clock, overstay.Settings{
		Threshold: cfg.Overstay.Threshold,
		Lookback:  cfg.Overstay.Lookback,
		Cooldown:  cfg.Server.EventCooldown,
	}, logger)

	sched := scheduler.New(cfg, detector, appStore, appMetrics, logger, clock.Now)
	sched.Start(ctx)

	handler := api.NewHandler(svc, appStore, webpushOptions, mw.NewResponseCache(cfg.Server.CacheTTL), logger)
	router := api.NewRouter(handler, cfg.Server, appMetrics, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}
	sched.Stop()
	cancel()

	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("server gracefully stopped")
}
