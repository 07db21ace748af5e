package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-ops/config"
	"github.com/jwalitptl/clinic-ops/internal/handler/health"
	"github.com/jwalitptl/clinic-ops/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/repository/postgres"
	"github.com/jwalitptl/clinic-ops/internal/worker"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
	pkgworker "github.com/jwalitptl/clinic-ops/pkg/worker"
)

func setupHealthCheck(port int, store health.Pinger, metricsNamespace string) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	health.NewHandler(store).RegisterRoutes(engine.Group(""))
	engine.GET("/metrics", prometheus.New(metricsNamespace+"_worker").Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if strings.ToLower(cfg.Store.Driver) != config.StoreDriverPostgres {
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("The outbox worker needs the postgres store; the memory store is relayed by the API itself")
	}

	level := logger.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)
	appLogger := logger.NewLogger(&logger.Config{Level: level, TimeFormat: time.RFC3339, Output: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare schema")
	}

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	workerMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, "worker")
	store := postgres.NewStore(db, postgres.Options{
		MaxRetries: cfg.Store.TxRetries,
		Metrics:    workerMetrics,
		Logger:     appLogger,
	})
	defer store.Close()

	outboxRepo := repository.NewOutboxRepository(store)
	processor := pkgworker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger,
		workerMetrics,
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLogger)

	healthSrv := setupHealthCheck(cfg.Outbox.HealthPort, store, cfg.Monitoring.Namespace)

	go cleanup.Start(ctx)
	processor.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health check server forced to shutdown")
	}
	appLogger.Info("Worker stopped")
}
