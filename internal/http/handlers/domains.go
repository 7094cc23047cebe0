package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/services"
)

type DomainHandler struct {
	domains services.DomainService
}

func NewDomainHandler(domains services.DomainService) *DomainHandler {
	return &DomainHandler{domains: domains}
}

// GET /api/v1/domains
func (h *DomainHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	alerts, err := h.domains.List(c.Request.Context(), limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "domain_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"domains": alerts})
}

// GET /api/v1/domains/:domain
func (h *DomainHandler) Get(c *gin.Context) {
	alert, err := h.domains.Get(c.Request.Context(), c.Param("domain"))
	if err != nil {
		if errors.Is(err, services.ErrDomainNotFound) {
			response.RespondError(c, http.StatusNotFound, "domain_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "domain_get_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"domain": alert})
}

// POST /api/v1/domains/:domain/reset
func (h *DomainHandler) Reset(c *gin.Context) {
	domain := c.Param("domain")
	if err := h.domains.Reset(c.Request.Context(), domain, middleware.Operator(c)); err != nil {
		if errors.Is(err, services.ErrDomainNotFound) {
			response.RespondError(c, http.StatusNotFound, "domain_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "domain_reset_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"domain": domain, "reset": true})
}

type defederateRequest struct {
	Notes string `json:"notes"`
}

// POST /api/v1/domains/:domain/defederate
func (h *DomainHandler) Defederate(c *gin.Context) {
	domain := c.Param("domain")
	var req defederateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	if err := h.domains.MarkDefederated(c.Request.Context(), domain, middleware.Operator(c), req.Notes); err != nil {
		if errors.Is(err, services.ErrDomainNotFound) {
			response.RespondError(c, http.StatusNotFound, "domain_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "domain_defederate_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"domain": domain, "defederated": true})
}

type thresholdRequest struct {
	Threshold int `json:"threshold" binding:"required,min=1"`
}

// PUT /api/v1/domains/:domain/threshold
func (h *DomainHandler) SetThreshold(c *gin.Context) {
	domain := c.Param("domain")
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondFieldError(c, http.StatusBadRequest, "invalid_request", "threshold", err)
		return
	}
	if err := h.domains.SetThreshold(c.Request.Context(), domain, req.Threshold, middleware.Operator(c)); err != nil {
		if errors.Is(err, services.ErrDomainNotFound) {
			response.RespondError(c, http.StatusNotFound, "domain_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "domain_threshold_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"domain": domain, "threshold": req.Threshold})
}
