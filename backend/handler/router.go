package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/metrics"
)

type Handlers struct {
	Auth        *AuthHandler
	Maintenance *MaintenanceHandler
	Messages    *MessageHandler
	Billing     *BillingHandler
	Health      *HealthHandler
	Metrics     *metrics.Metrics
}

type RouterConfig struct {
	Auth            *config.AuthConfig
	RateLimit       int // requests per minute per client
	SubmitRateLimit int // maintenance submissions per minute per user
}

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(h Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	router.Use(middleware.RequestID())                          // Request ID for tracing
	router.Use(middleware.Recovery())                           // Panic recovery
	router.Use(middleware.RequestLogger("/health", "/metrics")) // Access logging
	if h.Metrics != nil {
		router.Use(h.Metrics.Middleware())
	}
	router.Use(corsMiddleware())
	router.Use(noCacheMiddleware())
	router.Use(middleware.RateLimit(cfg.RateLimit, time.Minute))

	router.GET("/health", h.Health.Health)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	// Public routes
	api := router.Group("/api")
	api.POST("/auth/login", h.Auth.Login)

	// Protected routes
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(cfg.Auth))
	{
		protected.GET("/auth/me", h.Auth.GetCurrentUser)

		protected.POST("/maintenance",
			middleware.RequireRole(model.RoleTenant),
			middleware.RateLimit(cfg.SubmitRateLimit, time.Minute),
			h.Maintenance.Submit,
		)
		protected.GET("/maintenance", h.Maintenance.List)
		protected.GET("/maintenance/:id", h.Maintenance.Get)
		protected.PATCH("/maintenance/:id/status", middleware.RequireRole(model.RoleLandlord), h.Maintenance.UpdateStatus)
		protected.GET("/landlord/maintenance", middleware.RequireRole(model.RoleLandlord), h.Maintenance.ListForLandlord)

		protected.POST("/messages", h.Messages.Send)
		protected.GET("/messages/unread", h.Messages.Unread)
		protected.GET("/messages/stream", h.Messages.Stream)
		protected.GET("/messages/:userId", h.Messages.Conversation)
		protected.POST("/messages/:userId/read", h.Messages.MarkRead)

		protected.GET("/billing", h.Billing.List)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After, X-RateLimit-Remaining")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware keeps API responses out of shared caches
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
