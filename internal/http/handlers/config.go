package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/services"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ConfigHandler struct {
	config services.ConfigService
}

func NewConfigHandler(config services.ConfigService) *ConfigHandler {
	return &ConfigHandler{config: config}
}

// GET /api/v1/config
func (h *ConfigHandler) Get(c *gin.Context) {
	all, err := h.config.All(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "config_load_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"config": all})
}

type configSetRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// PUT /api/v1/config/:key
func (h *ConfigHandler) Set(c *gin.Context) {
	key := c.Param("key")
	var req configSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondFieldError(c, http.StatusBadRequest, "invalid_request", "value", err)
		return
	}
	if err := h.config.Set(c.Request.Context(), key, req.Value, middleware.Operator(c)); err != nil {
		response.RespondError(c, http.StatusBadRequest, "config_set_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"key": key, "value": req.Value})
}

type dryRunRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PUT /api/v1/config/dry-run is sugar over the dry_run key so the console
// toggle cannot typo the key name.
func (h *ConfigHandler) SetDryRun(c *gin.Context) {
	var req dryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondFieldError(c, http.StatusBadRequest, "invalid_request", "enabled", err)
		return
	}
	raw, _ := json.Marshal(*req.Enabled)
	if err := h.config.Set(c.Request.Context(), types.ConfigKeyDryRun, raw, middleware.Operator(c)); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "config_set_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"dry_run": *req.Enabled})
}
