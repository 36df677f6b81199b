// Package router assembles the gin engine: middleware chain, versioned API
// groups and the operational endpoints.
package router

import (
	"github.com/spb722/ai-companion/pkg/config"
	"github.com/spb722/ai-companion/pkg/di"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/jwt"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/middleware"
	"github.com/spb722/ai-companion/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router over the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	_ = engine.SetTrustedProxies(cfg.Security.TrustedProxies)

	engine.Use(middleware.RequestID())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg))
	engine.Use(middleware.BodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	jwtAuth := middleware.JWTAuth(c.JWTService)
	rateLimit := middleware.RateLimit(c.RateLimiter)

	// Operational endpoints sit outside the rate limiter
	r.Engine.GET("/health", c.Health.Handler())
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if v, err := validator.NewOpenAPIValidator("api/openapi.yaml"); err == nil {
		r.Engine.Use(v.Middleware())
	} else {
		r.Logger.Warn("OpenAPI validation disabled", "error", err.Error())
	}

	v1 := r.Engine.Group("/api/v1")
	v1.GET("/health", c.Health.Handler())

	// The shared limiter runs after authentication so counting keys on the
	// user, and a rejected credential never consumes a slot. The anonymous
	// auth endpoints are keyed by client IP.
	auth := v1.Group("/auth")
	{
		auth.POST("/signup", rateLimit, c.AuthHandler.Signup)
		auth.POST("/login", rateLimit, c.AuthHandler.Login)
		auth.GET("/me", jwtAuth, rateLimit, c.AuthHandler.Me)
	}

	protected := v1.Group("/")
	protected.Use(jwtAuth, rateLimit)
	{
		characters := protected.Group("/characters")
		{
			characters.GET("", c.CharacterHandler.List)
			characters.GET("/:id", c.CharacterHandler.Get)
			characters.POST("/:id/select", c.CharacterHandler.Select)
		}

		chatRoutes := protected.Group("/chat")
		{
			chatRoutes.POST("/send", c.ChatHandler.Send)
			chatRoutes.GET("/history", c.ChatHandler.History)
			chatRoutes.GET("/provider", c.ChatHandler.ProviderStatus)
			chatRoutes.GET("/ws", middleware.LocalLimit(5, 10), c.WSHandler.Serve)
		}

		protected.GET("/quota", c.QuotaHandler.Get)

		billing := protected.Group("/billing")
		{
			billing.GET("/plans", c.BillingHandler.Plans)
			billing.GET("/plan", c.BillingHandler.CurrentPlan)
			billing.POST("/upgrade", c.BillingHandler.Upgrade)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.POST("/llm/switch", c.AdminHandler.Switch)
			admin.POST("/llm/test", middleware.LocalLimit(1, 3), c.AdminHandler.Test)
		}
	}
}

// corsMiddleware applies the configured cross-origin policy, including the
// headers WebSocket upgrades need.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Security.AllowedOrigins))
	wildcard := false
	for _, o := range cfg.Security.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if wildcard {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
