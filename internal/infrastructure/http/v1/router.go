// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/domain/auth"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/handlers"
	"wmsledger/internal/infrastructure/http/v1/middleware"
	"wmsledger/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Service executes every inventory operation
	Service *inventory.Service

	// Idempotency enables X-Idempotency-Key handling when set
	Idempotency middleware.IdempotencyStore

	// Health is checked by the readiness probe
	Health handlers.Pinger

	// Version is reported by /health/info
	Version string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Health, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}

	registerOrderRoutes(v1, cfg)
	registerStockRoutes(v1, cfg)
	registerBackorderRoutes(v1, cfg)
	registerCountTaskRoutes(v1, cfg)
	registerAdminRoutes(v1, cfg)

	return router
}

func registerOrderRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewOrderHandler(cfg.Service)
	orders := rg.Group("/orders/:orderId", middleware.RequirePermission(auth.PermAllocate))
	{
		orders.POST("/allocations", h.Allocate)
		orders.POST("/fulfillments", h.Fulfill)
		orders.POST("/releases", h.Release)
	}
}

func registerStockRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewStockHandler(cfg.Service)
	stock := rg.Group("/stock")
	{
		read := middleware.RequireAnyPermission(auth.PermRead, auth.PermAdjust, auth.PermAllocate)
		stock.GET("", read, h.List)
		stock.GET("/movements", read, h.Movements)
		stock.GET("/reconciliation", read, h.Reconciliation)

		adjust := middleware.RequirePermission(auth.PermAdjust)
		stock.POST("/receipts", adjust, h.Receive)
		stock.POST("/transfers", adjust, h.Transfer)
		stock.POST("/adjustments", adjust, h.Adjust)
	}
}

func registerBackorderRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewBackorderHandler(cfg.Service)
	backorders := rg.Group("/backorders")
	{
		backorders.GET("", middleware.RequireAnyPermission(auth.PermRead, auth.PermAllocate), h.List)
		backorders.POST("/:id/advance", middleware.RequirePermission(auth.PermAllocate), h.Advance)
		backorders.POST("/:id/cancel", middleware.RequirePermission(auth.PermAllocate), h.Cancel)
	}
}

func registerCountTaskRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewCountTaskHandler(cfg.Service)
	tasks := rg.Group("/count-tasks")
	{
		tasks.GET("", middleware.RequireAnyPermission(auth.PermRead, auth.PermAdjust), h.List)
		tasks.POST("/:id/complete", middleware.RequirePermission(auth.PermAdjust), h.Complete)
	}
}

func registerAdminRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewAdminHandler(cfg.Service)
	rg.GET("/audit/:entityType/:id", middleware.RequireAnyPermission(auth.PermRead, auth.PermAdjust), h.AuditHistory)

	locations := rg.Group("/locations/:id", middleware.RequirePermission(auth.PermAdjust))
	{
		locations.POST("/activate", h.ActivateLocation)
		locations.POST("/deactivate", h.DeactivateLocation)
	}
}
