package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/services"
)

type AuthHandler struct {
	auth services.AuthService
}

func NewAuthHandler(auth services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

// POST /api/v1/auth/session
// The operator submits their upstream OAuth token once; we verify it against
// the instance and hand back a short-lived session JWT.
func (h *AuthHandler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondFieldError(c, http.StatusBadRequest, "invalid_request", "token", err)
		return
	}
	session, err := h.auth.CreateSession(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, services.ErrNotOperator) {
			response.RespondError(c, http.StatusForbidden, "forbidden", err)
			return
		}
		response.RespondError(c, http.StatusUnauthorized, "verification_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}
