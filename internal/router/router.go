package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/handler/health"
	"github.com/jwalitptl/account-security/internal/middleware"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// SplitHandler has routes on both sides of authentication.
type SplitHandler interface {
	Handler
	RegisterProtectedRoutes(*gin.RouterGroup)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	health    *health.Handler
	passwordH Handler
	authH     SplitHandler
	accountH  SplitHandler
	auditH    Handler
}

type RouterConfig struct {
	Mode        string
	RateLimit   middleware.RateLimiterConfig
	RateEnabled bool
	MaxBodySize int64
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	passwordH Handler,
	authH SplitHandler,
	accountH SplitHandler,
	auditH Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultMaxBodySize
	}

	engine := gin.New()

	r := &Router{
		engine:    engine,
		auth:      auth,
		health:    healthH,
		passwordH: passwordH,
		authH:     authH,
		accountH:  accountH,
		auditH:    auditH,
	}

	// Post-processing runs in reverse, so Validation renders binding errors
	// before ErrorHandler sees them.
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(config.Logger),
		middleware.Logger(config.Logger),
		middleware.Metrics(config.Metrics),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.ErrorHandler(config.Logger),
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.SizeLimit(config.MaxBodySize),
	)

	if config.RateEnabled {
		rateLimiter := middleware.NewRateLimiter(config.RateLimit)
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", r.health.MetricsHandler())

	api := r.engine.Group("/api/v1")

	// Health check endpoints
	r.health.RegisterRoutes(api)

	// Public routes
	r.setupPublicRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupPublicRoutes(rg *gin.RouterGroup) {
	r.passwordH.RegisterRoutes(rg)
	r.authH.RegisterRoutes(rg)
	r.accountH.RegisterRoutes(rg)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	r.authH.RegisterProtectedRoutes(rg)
	r.accountH.RegisterProtectedRoutes(rg)
	r.auditH.RegisterRoutes(rg)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
