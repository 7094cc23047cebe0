package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/services"
)

type AnalyticsHandler struct {
	analytics services.AnalyticsService
}

func NewAnalyticsHandler(analytics services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// GET /api/v1/analytics/domains
func (h *AnalyticsHandler) Domains(c *gin.Context) {
	out, err := h.analytics.Domains(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "analytics_failed", err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/scanning
func (h *AnalyticsHandler) Scanning(c *gin.Context) {
	out, err := h.analytics.Scanning(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "analytics_failed", err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/overview
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	out, err := h.analytics.Overview(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "analytics_failed", err)
		return
	}
	response.RespondOK(c, out)
}
