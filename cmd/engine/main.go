package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/config"
	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/cache"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/provider"
	"notifyhub/internal/repository"
	"notifyhub/internal/scheduler"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/outbox"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/retry"
	"notifyhub/pkg/util"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting delivery engine...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established")

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, 24*time.Hour)
	notificationCache := cache.NewNotificationCache(rdb, cfg.Cache, log)

	// Init MQ publisher + DLQ topology
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()
	if err := publisher.SetupDLQ(
		contractsmq.RoutingKeyDispatchRequested,
		contractsmq.RoutingKeyDeliveryStatus,
	); err != nil {
		log.Fatal("DLQ setup failed", zap.Error(err))
	}

	// Init repositories
	deliveryRepo := repository.NewDeliveryRepository(dbConn, log)
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	// Init dispatch pipeline
	providerClient := provider.NewHTTPClient(cfg.Provider)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:    cfg.Dispatch.BreakerThreshold,
		SuccessThreshold:    2,
		Timeout:             cfg.Dispatch.BreakerTimeout,
		ResetTimeout:        cfg.Dispatch.BreakerReset,
		HalfOpenMaxRequests: 3,
	})
	retryExec := retry.NewExecutor(log)
	orchestrator := dispatch.NewOrchestrator(
		dbConn, deliveryRepo, notificationRepo, providerClient, breakers, retryExec, log,
	).WithMaxBatchAttempts(cfg.Dispatch.MaxBatchAttempts).
		WithMaxRecordRetries(cfg.Dispatch.MaxRecordRetries)

	// Init handlers
	dispatchHandler := mqhandler.NewDispatchRequestedHandler(
		orchestrator, notificationRepo, deduper, retryCounter, publisher, log,
	)
	statusHandler := mqhandler.NewDeliveryStatusHandler(orchestrator, retryCounter, publisher, log)

	// (1) Consumer for dispatch requests
	log.Info("Initializing dispatch consumer", zap.String("queue", "notification.dispatch.requested.q"))
	dispatchConsumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.dispatch.requested.q",
		contractsmq.RoutingKeyDispatchRequested, log)
	if err != nil {
		log.Fatal("failed to init dispatch consumer", zap.Error(err))
	}
	dispatchConsumer.SetHandler(dispatchHandler.Handle)
	go func() {
		if err := dispatchConsumer.StartConsuming(); err != nil {
			log.Fatal("dispatch consumer failed", zap.Error(err))
		}
	}()
	defer dispatchConsumer.Close()

	// (2) Consumer for delivery status webhooks
	log.Info("Initializing delivery-status consumer", zap.String("queue", "notification.delivery.status.q"))
	statusConsumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.delivery.status.q",
		contractsmq.RoutingKeyDeliveryStatus, log)
	if err != nil {
		log.Fatal("failed to init delivery-status consumer", zap.Error(err))
	}
	statusConsumer.SetHandler(statusHandler.Handle)
	go func() {
		if err := statusConsumer.StartConsuming(); err != nil {
			log.Fatal("delivery-status consumer failed", zap.Error(err))
		}
	}()
	defer statusConsumer.Close()

	// Outbox dispatcher
	outboxDispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go outboxDispatcher.Start(ctx)

	// Scheduled notification sweep + failed-event replay
	sched := scheduler.NewScheduler(dbConn, notificationRepo, outboxRepo, log).
		WithReplay(outbox.NewReplayService(outboxRepo, publisher))
	if err := sched.Start(); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}
	defer sched.Stop()

	// Metrics + health server
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbConn.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := notificationCache.Ping(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Info("Metrics server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	log.Info("Engine ready, consuming messages")

	<-ctx.Done()
	log.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}
