package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

func NewHandler(deps Deps) *Handler {
	return &Handler{
		feedRepo:      deps.Feeds,
		webhookRepo:   deps.Webhooks,
		ruleRepo:      deps.Rules,
		executionRepo: deps.Executions,
		logRepo:       deps.Logs,
		validator:     deps.Validator,
		dispatcher:    deps.Dispatcher,
		callbacks:     deps.Callbacks,
		scheduler:     deps.Scheduler,
		recorder:      deps.Recorder,
		version:       deps.Version,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(c.Request.Context()); err == nil {
		health["feeds"] = feedCount
	} else {
		slog.Error("Database error", "operation", "get_feed_count", "error", err)
		health["status"] = "degraded"
	}

	c.JSON(http.StatusOK, health)
}

// WebhookCallback accepts the completion report of a workflow execution.
func (h *Handler) WebhookCallback(c *gin.Context) {
	token := c.GetHeader("X-Auth-Token")
	if err := h.callbacks.Authenticate(c.Request.Context(), token); err != nil {
		respondCallbackError(c, "", err)
		return
	}

	var payload webhook.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON payload"})
		return
	}

	result, err := h.callbacks.Handle(c.Request.Context(), token, payload)
	if err != nil {
		respondCallbackError(c, payload.ExecutionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"execution_id": result.ExecutionID,
		"status":       result.Status,
		"duplicate":    result.Duplicate,
	})
}

func respondCallbackError(c *gin.Context, executionID string, err error) {
	var (
		authErr       *webhook.CallbackAuthError
		notFoundErr   *webhook.CallbackNotFoundError
		validationErr *webhook.CallbackValidationError
	)
	switch {
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": validationErr.Message})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Execution not found"})
	default:
		slog.Error("Callback processing failed", "execution_id", executionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
	}
}

// FetchDue queues every feed whose polling interval has elapsed.
func (h *Handler) FetchDue(c *gin.Context) {
	queued, err := h.scheduler.EnqueueDue(c.Request.Context())
	if err != nil {
		slog.Error("Error enqueueing due feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue due feeds",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "queued": queued})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	filter := database.ExecutionFilter{
		Status:    database.ExecutionStatus(c.Query("status")),
		WebhookID: queryInt64(c, "webhook_id"),
		ItemID:    queryInt64(c, "item_id"),
		Limit:     int(queryInt64(c, "limit")),
	}

	executions, err := h.executionRepo.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		databaseError(c, "list_executions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": nonNil(executions),
		"total":      len(executions),
	})
}

func (h *Handler) ListLogs(c *gin.Context) {
	filter := database.LogFilter{
		Level:   database.LogLevel(c.Query("level")),
		Context: c.Query("context"),
		Limit:   int(queryInt64(c, "limit")),
	}

	entries, err := h.logRepo.ListLogs(c.Request.Context(), filter)
	if err != nil {
		databaseError(c, "list_logs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  nonNil(entries),
		"total": len(entries),
	})
}

// pathID parses the :id parameter, writing a 400 response when it is not a
// positive integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, key string) int64 {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func databaseError(c *gin.Context, operation string, err error) {
	slog.Error("Database error", "operation", operation, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

// respondMutationError maps repository errors of update and delete calls.
func respondMutationError(c *gin.Context, operation string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	databaseError(c, operation, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
