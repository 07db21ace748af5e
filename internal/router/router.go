package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-ops/internal/handler/assignment"
	"github.com/jwalitptl/clinic-ops/internal/handler/auth"
	"github.com/jwalitptl/clinic-ops/internal/handler/dialysis"
	"github.com/jwalitptl/clinic-ops/internal/handler/health"
	"github.com/jwalitptl/clinic-ops/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/model"
)

type Handlers struct {
	Auth       *auth.Handler
	Dialysis   *dialysis.Handler
	Assignment *assignment.Handler
	Health     *health.Handler
	// Metrics is optional; nil disables the metrics endpoint and middleware.
	Metrics *prometheus.Handler
}

type RouterConfig struct {
	Mode             string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	CORSConfig       middleware.CORSConfig
	Security         middleware.SecurityConfig
	MetricsPath      string
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	config   RouterConfig
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) (*Router, error) {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}

	engine := gin.New()
	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		config:   config,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORSConfig),
	)
	if handlers.Metrics != nil {
		engine.Use(handlers.Metrics.Middleware())
	}
	if config.RateLimitEnabled {
		engine.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		}).RateLimit())
	}
	engine.Use(
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.Timeout(config.RequestTimeout),
	)

	return r, nil
}

func (r *Router) Setup() {
	if r.handlers.Metrics != nil {
		path := r.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, r.handlers.Metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	r.handlers.Health.RegisterRoutes(api)
	r.handlers.Auth.RegisterPublicRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	adminOnly := r.auth.RequireRole(model.RoleAdmin)

	r.handlers.Auth.RegisterRoutes(protected, adminOnly)
	r.handlers.Dialysis.RegisterRoutes(protected, adminOnly)
	r.handlers.Assignment.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
