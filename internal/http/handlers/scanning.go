package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/jobs"
	"github.com/fediwatch/watcher-backend/internal/services"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ScanningHandler struct {
	scanner  services.ScannerService
	enqueuer *jobs.Enqueuer
}

func NewScanningHandler(scanner services.ScannerService, enqueuer *jobs.Enqueuer) *ScanningHandler {
	return &ScanningHandler{scanner: scanner, enqueuer: enqueuer}
}

// POST /api/v1/scanning/federated queues a full federated sweep.
func (h *ScanningHandler) TriggerFederated(c *gin.Context) {
	job, err := h.enqueuer.EnqueueAdhoc(c.Request.Context(), types.JobTypeFederatedScan, types.ScanSessionTypeFederated, map[string]any{
		"triggered_by": middleware.Operator(c),
	})
	if err != nil {
		var already *jobs.ErrJobAlreadyQueued
		if errors.As(err, &already) {
			response.RespondError(c, http.StatusConflict, "scan_already_running", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

type domainCheckRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// POST /api/v1/scanning/domain-check
func (h *ScanningHandler) TriggerDomainCheck(c *gin.Context) {
	var req domainCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondFieldError(c, http.StatusBadRequest, "invalid_request", "domain", err)
		return
	}
	job, err := h.enqueuer.EnqueueAdhoc(c.Request.Context(), types.JobTypeDomainCheck, types.ScanSessionTypeDomainCheck, map[string]any{
		"domain":       req.Domain,
		"triggered_by": middleware.Operator(c),
	})
	if err != nil {
		var already *jobs.ErrJobAlreadyQueued
		if errors.As(err, &already) {
			response.RespondError(c, http.StatusConflict, "scan_already_running", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

type invalidateRequest struct {
	AccountID string `json:"account_id"`
}

// POST /api/v1/scanning/invalidate-cache queues a job that marks memo rows
// for rescan, all of them or one account's.
func (h *ScanningHandler) InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	job, err := h.enqueuer.EnqueueAdhoc(c.Request.Context(), types.JobTypeInvalidateCache, "", map[string]any{
		"account_id":   req.AccountID,
		"triggered_by": middleware.Operator(c),
	})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/v1/scanning/cache-status
func (h *ScanningHandler) CacheStatus(c *gin.Context) {
	status, err := h.scanner.CacheStatus(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "cache_status_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"cache": status})
}

// GET /api/v1/scanning/sessions
func (h *ScanningHandler) ListSessions(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	sessions, err := h.scanner.ListSessions(c.Request.Context(), limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_sessions_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

// GET /api/v1/scanning/sessions/:id
func (h *ScanningHandler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	session, err := h.scanner.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			response.RespondError(c, http.StatusNotFound, "session_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_session_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}

// POST /api/v1/scanning/sessions/:id/cancel
func (h *ScanningHandler) CancelSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	if err := h.scanner.CancelSession(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			response.RespondError(c, http.StatusNotFound, "session_not_found", err)
		case errors.Is(err, services.ErrSessionTerminal):
			response.RespondError(c, http.StatusConflict, "session_finished", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"cancelled": id})
}

// POST /api/v1/scanning/accounts/:id runs an on-demand scan of one account
// synchronously and returns the verdict.
func (h *ScanningHandler) ScanAccount(c *gin.Context) {
	id := c.Param("id")
	result, err := h.scanner.ScanAccount(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrScanAlreadyRunning) {
			response.RespondError(c, http.StatusConflict, "scan_already_running", err)
			return
		}
		response.RespondError(c, http.StatusBadGateway, "scan_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"result": result})
}
