package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

const testMessage = "This is a test message from RSS Content Planner."

func (h *Handler) ListWebhooks(c *gin.Context) {
	webhooks, err := h.webhookRepo.ListWebhooks(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		databaseError(c, "list_webhooks", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": nonNil(webhooks),
		"total":    len(webhooks),
	})
}

// CreateWebhook stores a workflow endpoint. A callback token is generated
// when the request does not carry one.
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if req.Name == "" || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and URL are required"})
		return
	}
	if req.ProcessingType != "" && !req.ProcessingType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown processing type", "processing_type": req.ProcessingType})
		return
	}

	token := req.AuthToken
	if token == "" {
		generated, err := webhook.GenerateToken()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate auth token"})
			return
		}
		token = generated
	}

	w := &database.Webhook{
		Name:                req.Name,
		URL:                 req.URL,
		AuthToken:           token,
		WorkflowName:        req.WorkflowName,
		WorkflowDescription: req.WorkflowDescription,
		ProcessingType:      req.ProcessingType,
		TimeoutSeconds:      req.TimeoutSeconds,
		RetryAttempts:       req.RetryAttempts,
		TestMode:            req.TestMode,
		Active:              req.Active == nil || *req.Active,
	}

	ctx := c.Request.Context()
	if _, err := h.webhookRepo.CreateWebhook(ctx, w); err != nil {
		databaseError(c, "create_webhook", err)
		return
	}

	activity.Emit(ctx, h.recorder, database.LogInfo, "webhook_management", "Webhook created", map[string]any{
		"webhook_id": w.ID,
		"name":       w.Name,
	})

	c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWebhook(c *gin.Context) {
	w, ok := h.loadWebhook(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWebhook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.webhookRepo.DeleteWebhook(c.Request.Context(), id); err != nil {
		respondMutationError(c, "delete_webhook", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TestWebhook dispatches a canned payload that is not tied to any content
// record.
func (h *Handler) TestWebhook(c *gin.Context) {
	w, ok := h.loadWebhook(c)
	if !ok {
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), w.ID, webhook.ContentPayload{
		Title:     "Test Message",
		Content:   testMessage,
		SourceURL: "",
		Metadata:  map[string]any{"test": true},
	})
	if err != nil {
		var dispatchErr *webhook.DispatchError
		if errors.As(err, &dispatchErr) {
			status := http.StatusBadGateway
			if dispatchErr.Kind == webhook.DispatchNotFound {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{
				"success":      false,
				"error":        dispatchErr.Error(),
				"kind":         dispatchErr.Kind,
				"execution_id": dispatchErr.ExecutionID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *Handler) WebhookStats(c *gin.Context) {
	w, ok := h.loadWebhook(c)
	if !ok {
		return
	}

	stats, err := h.webhookRepo.GetWebhookStats(c.Request.Context(), w.ID)
	if err != nil {
		databaseError(c, "get_webhook_stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhook_id":    w.ID,
		"success_count": w.SuccessCount,
		"error_count":   w.ErrorCount,
		"last_used":     w.LastUsed,
		"executions":    stats,
	})
}

func (h *Handler) loadWebhook(c *gin.Context) (*database.Webhook, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}

	w, err := h.webhookRepo.GetWebhook(c.Request.Context(), id)
	if err != nil {
		databaseError(c, "get_webhook", err)
		return nil, false
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return nil, false
	}
	return w, true
}
