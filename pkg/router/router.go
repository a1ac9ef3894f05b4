package router

import (
	"talenttrade/backend/internal/api"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/di"
	"talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter
}

// New creates the gin engine with the shared middleware chain
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(tracing())
	engine.Use(middleware.CORS(cfg.Security.AllowedOrigins))

	opts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.RateLimit > 0 {
		opts.Limit = rate.Limit(cfg.Security.RateLimit)
	}
	if cfg.Security.RateLimitBurst > 0 {
		opts.Burst = cfg.Security.RateLimitBurst
	}
	rateLimiter := middleware.NewRateLimiter(container.Logger, opts)

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	// Health and metrics stay outside the rate limiter so probes are never refused
	healthHandler := api.NewHealthHandler(c.Health, r.Config.Server.Version)
	healthHandler.RegisterHealthRoutes(r.Engine, c.Hub)
	if r.Config.Observability.MetricsEnabled {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// The handshake authenticates on its own so that refusals carry no partial state
	r.Engine.GET("/ws", r.RateLimiter.Middleware(), c.Hub.ServeWs)

	if r.Config.OpenAPISchemaPath != "" {
		r.AddOpenAPIValidation(r.Config.OpenAPISchemaPath)
	}

	protected := r.Engine.Group("/api")
	protected.Use(r.RateLimiter.Middleware(), middleware.RequireAuth(c.Identity))
	{
		api.NewExchangeHandler(c.Chat).RegisterRoutes(protected)
		api.NewCallHandler(c.Calls).RegisterRoutes(protected)
		api.NewPresenceHandler(c.Hub).RegisterRoutes(protected)
	}
}
