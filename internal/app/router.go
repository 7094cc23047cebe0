package app

import (
	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/server"
)

func wireRouter(log *logger.Logger, metrics *observability.Metrics, auth *middleware.AuthMiddleware, handlerset Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AuthMiddleware: auth,

		AuthHandler:      handlerset.Auth,
		RuleHandler:      handlerset.Rules,
		ScanningHandler:  handlerset.Scanning,
		AnalyticsHandler: handlerset.Analytics,
		ConfigHandler:    handlerset.Config,
		DomainHandler:    handlerset.Domains,
		HealthHandler:    handlerset.Health,
	})
}
