package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/http/response"
	"github.com/fediwatch/watcher-backend/internal/services"
)

type RuleHandler struct {
	rules services.RuleService
}

func NewRuleHandler(rules services.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// GET /api/v1/rules
func (h *RuleHandler) List(c *gin.Context) {
	rules, err := h.rules.List(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_rules_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rules": rules})
}

// GET /api/v1/rules/current returns the compiled ruleset the scanner is
// using right now, version included.
func (h *RuleHandler) Current(c *gin.Context) {
	ruleset, err := h.rules.ActiveRuleset(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "ruleset_failed", err)
		return
	}
	names := make([]string, 0, len(ruleset.Rules))
	for _, r := range ruleset.Rules {
		names = append(names, r.Name)
	}
	response.RespondOK(c, gin.H{
		"version":    ruleset.Version,
		"rule_count": len(ruleset.Rules),
		"rules":      names,
	})
}

// GET /api/v1/rules/:id
func (h *RuleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			response.RespondError(c, http.StatusNotFound, "rule_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_rule_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rule": rule})
}

// POST /api/v1/rules
func (h *RuleHandler) Create(c *gin.Context) {
	var in services.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), in, middleware.Operator(c))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_rule_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"rule": rule})
}

// PUT /api/v1/rules/:id
func (h *RuleHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
		return
	}
	var in services.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), id, in, middleware.Operator(c))
	if err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			response.RespondError(c, http.StatusNotFound, "rule_not_found", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "update_rule_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"rule": rule})
}

// DELETE /api/v1/rules/:id
func (h *RuleHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_rule_id", err)
		return
	}
	if err := h.rules.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrRuleNotFound):
			response.RespondError(c, http.StatusNotFound, "rule_not_found", err)
		case errors.Is(err, services.ErrDefaultRuleImmutable):
			response.RespondError(c, http.StatusConflict, "default_rule_immutable", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "delete_rule_failed", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"deleted": id})
}
