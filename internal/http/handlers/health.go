package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/http/response"
)

type HealthHandler struct {
	db       *gorm.DB
	bus      redis.EventBus
	upstream mastodon.Client
}

func NewHealthHandler(db *gorm.DB, bus redis.EventBus, upstream mastodon.Client) *HealthHandler {
	return &HealthHandler{db: db, bus: bus, upstream: upstream}
}

// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	sqlDB, err := h.db.WithContext(ctx).DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.bus.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if inst, err := h.upstream.GetInstance(ctx); err != nil {
		checks["upstream"] = err.Error()
		healthy = false
	} else {
		checks["upstream"] = "ok"
		checks["upstream_version"] = inst.Version
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	response.RespondOK(c, gin.H{"status": "ok", "checks": checks})
}
