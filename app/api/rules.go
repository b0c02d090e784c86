package api

import (
	"cmp"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/rules"
)

func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.ruleRepo.ListRules(c.Request.Context())
	if err != nil {
		databaseError(c, "list_rules", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": nonNil(list),
		"total": len(list),
	})
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	rule := &database.Rule{Active: true}
	if !h.applyRule(c, req, rule) {
		return
	}

	if _, err := h.ruleRepo.CreateRule(c.Request.Context(), rule); err != nil {
		databaseError(c, "create_rule", err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rule, err := h.ruleRepo.GetRule(ctx, id)
	if err != nil {
		databaseError(c, "get_rule", err)
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if !h.applyRule(c, req, rule) {
		return
	}

	if err := h.ruleRepo.UpdateRule(ctx, rule); err != nil {
		respondMutationError(c, "update_rule", err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.ruleRepo.DeleteRule(c.Request.Context(), id); err != nil {
		respondMutationError(c, "delete_rule", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ToggleRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	active, err := h.ruleRepo.ToggleRule(c.Request.Context(), id)
	if err != nil {
		respondMutationError(c, "toggle_rule", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "active": active})
}

// TestRule evaluates an unsaved rule definition against a sample item.
// Nothing is stored or dispatched.
func (h *Handler) TestRule(c *gin.Context) {
	var req ruleTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	report, err := rules.Test(rules.Definition{
		Conditions: rawList(req.Conditions),
		Actions:    rawList(req.Actions),
		WebhookID:  req.WebhookID,
	}, req.Sample.item())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule definition", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// applyRule validates req and copies it onto rule, writing a 400 response
// when the definition does not decode.
func (h *Handler) applyRule(c *gin.Context, req ruleRequest, rule *database.Rule) bool {
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
		return false
	}

	conditions, actions := req.definition()
	if err := rules.ValidateDefinition(conditions, actions, req.WebhookID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule definition", "details": err.Error()})
		return false
	}

	rule.Name = req.Name
	rule.FeedID = req.FeedID
	rule.Priority = cmp.Or(req.Priority, rule.Priority)
	rule.Conditions = conditions
	rule.Actions = actions
	rule.WebhookID = req.WebhookID
	if req.Active != nil {
		rule.Active = *req.Active
	}
	return true
}
