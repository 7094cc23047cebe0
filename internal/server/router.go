package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fediwatch/watcher-backend/internal/http/handlers"
	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AuthMiddleware *middleware.AuthMiddleware

	AuthHandler      *handlers.AuthHandler
	RuleHandler      *handlers.RuleHandler
	ScanningHandler  *handlers.ScanningHandler
	AnalyticsHandler *handlers.AnalyticsHandler
	ConfigHandler    *handlers.ConfigHandler
	DomainHandler    *handlers.DomainHandler
	HealthHandler    *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("watcher-backend"))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.Metrics(cfg.Metrics))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthz", cfg.HealthHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	router.POST("/api/v1/auth/session", cfg.AuthHandler.CreateSession)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api/v1")
	api.Use(cfg.AuthMiddleware.RequireOperator())

	// Rules
	api.GET("/rules", cfg.RuleHandler.List)
	api.GET("/rules/current", cfg.RuleHandler.Current)
	api.GET("/rules/:id", cfg.RuleHandler.Get)
	api.POST("/rules", cfg.RuleHandler.Create)
	api.PUT("/rules/:id", cfg.RuleHandler.Update)
	api.DELETE("/rules/:id", cfg.RuleHandler.Delete)

	// Scanning
	api.POST("/scanning/federated", cfg.ScanningHandler.TriggerFederated)
	api.POST("/scanning/domain-check", cfg.ScanningHandler.TriggerDomainCheck)
	api.POST("/scanning/accounts/:id", cfg.ScanningHandler.ScanAccount)
	api.GET("/scanning/sessions", cfg.ScanningHandler.ListSessions)
	api.GET("/scanning/sessions/:id", cfg.ScanningHandler.GetSession)
	api.POST("/scanning/sessions/:id/cancel", cfg.ScanningHandler.CancelSession)
	api.GET("/scanning/cache-status", cfg.ScanningHandler.CacheStatus)
	api.POST("/scanning/invalidate-cache", cfg.ScanningHandler.InvalidateCache)

	// Config
	api.GET("/config", cfg.ConfigHandler.Get)
	api.PUT("/config/dry-run", cfg.ConfigHandler.SetDryRun)
	api.PUT("/config/:key", cfg.ConfigHandler.Set)

	// Domains
	api.GET("/domains", cfg.DomainHandler.List)
	api.GET("/domains/:domain", cfg.DomainHandler.Get)
	api.POST("/domains/:domain/reset", cfg.DomainHandler.Reset)
	api.POST("/domains/:domain/defederate", cfg.DomainHandler.Defederate)
	api.PUT("/domains/:domain/threshold", cfg.DomainHandler.SetThreshold)

	// Analytics
	api.GET("/analytics/domains", cfg.AnalyticsHandler.Domains)
	api.GET("/analytics/scanning", cfg.AnalyticsHandler.Scanning)
	api.GET("/analytics/overview", cfg.AnalyticsHandler.Overview)

	return router
}
