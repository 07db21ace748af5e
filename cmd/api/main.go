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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-ops/config"
	"github.com/jwalitptl/clinic-ops/internal/email"
	assignmenthandler "github.com/jwalitptl/clinic-ops/internal/handler/assignment"
	authhandler "github.com/jwalitptl/clinic-ops/internal/handler/auth"
	dialysishandler "github.com/jwalitptl/clinic-ops/internal/handler/dialysis"
	"github.com/jwalitptl/clinic-ops/internal/handler/health"
	"github.com/jwalitptl/clinic-ops/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/repository/memory"
	"github.com/jwalitptl/clinic-ops/internal/repository/postgres"
	"github.com/jwalitptl/clinic-ops/internal/router"
	"github.com/jwalitptl/clinic-ops/internal/service/assignment"
	authservice "github.com/jwalitptl/clinic-ops/internal/service/auth"
	"github.com/jwalitptl/clinic-ops/internal/service/dialysis"
	"github.com/jwalitptl/clinic-ops/internal/service/notification"
	"github.com/jwalitptl/clinic-ops/pkg/auth"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/messaging"
	"github.com/jwalitptl/clinic-ops/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
	"github.com/jwalitptl/clinic-ops/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level := logger.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)
	appLogger := logger.NewLogger(&logger.Config{Level: level, TimeFormat: time.RFC3339, Output: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, "")

	store, closeStore, err := openStore(ctx, cfg, appMetrics, appLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open document store")
	}
	defer closeStore()

	if strings.ToLower(cfg.Store.Driver) == config.StoreDriverMemory {
		stopRelay, err := startLocalRelay(ctx, cfg, store, appMetrics, appLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start outbox relay")
		}
		defer stopRelay()
	}

	// Services
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authSvc := authservice.NewService(store, jwtSvc, security.NewBcryptHasher(bcrypt.DefaultCost), appLogger)
	if err := authSvc.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword, cfg.Auth.BootstrapName); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin account")
	}

	notifier := notification.NewService(email.NewService(cfg.SMTP), cfg.SMTP.ChargeNurse, appLogger)
	dialysisSvc := dialysis.NewService(store, dialysis.Options{
		CacheTTL: cfg.Store.CacheTTL,
		Notifier: notifier,
		Metrics:  appMetrics,
		Logger:   appLogger,
	})
	assignmentSvc := assignment.NewService(store, assignment.Options{
		CacheTTL: cfg.Store.CacheTTL,
		Metrics:  appMetrics,
		Logger:   appLogger,
	})
	if err := dialysisSvc.Watch(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to watch dialysis collections")
	}
	defer dialysisSvc.Close()
	if err := assignmentSvc.Watch(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to watch assignments")
	}
	defer assignmentSvc.Close()

	// HTTP
	handlers := router.Handlers{
		Auth:       authhandler.NewHandler(authSvc),
		Dialysis:   dialysishandler.NewHandler(dialysisSvc),
		Assignment: assignmenthandler.NewHandler(assignmentSvc),
		Health:     health.NewHandler(store),
	}
	if cfg.Monitoring.PrometheusEnabled {
		handlers.Metrics = prometheus.New(cfg.Monitoring.Namespace)
	}

	r, err := router.NewRouter(middleware.NewAuthMiddleware(authSvc), handlers, router.RouterConfig{
		Mode:             cfg.Server.Mode,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:        cfg.RateLimit.Burst,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		CORSConfig:       middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
		Security:         middleware.SecurityConfig{HSTSMaxAge: cfg.Server.HSTSMaxAge},
		MetricsPath:      cfg.Monitoring.MetricsPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

// openStore builds the configured DocumentStore. With the postgres driver and
// change_feed enabled, commit notices travel over Redis so every API
// instance sees writes made by the others.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, appLogger *logger.Logger) (repository.DocumentStore, func(), error) {
	if strings.ToLower(cfg.Store.Driver) == config.StoreDriverMemory {
		store := memory.NewStore()
		return store, func() { _ = store.Close() }, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	var changes messaging.Broker
	if cfg.Store.ChangeFeed {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect change feed: %w", err)
		}
		changes = broker
	}

	store := postgres.NewStore(db, postgres.Options{
		MaxRetries: cfg.Store.TxRetries,
		Changes:    changes,
		Metrics:    m,
		Logger:     appLogger,
	})
	return store, func() {
		_ = store.Close()
		if changes != nil {
			_ = changes.Close()
		}
		_ = db.Close()
	}, nil
}
