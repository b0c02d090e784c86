package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/tasks"
)

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds, err := h.feedRepo.ListFeeds(c.Request.Context(), database.FeedStatus(c.Query("status")))
	if err != nil {
		databaseError(c, "list_feeds", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": nonNil(feeds),
		"total": len(feeds),
	})
}

func (h *Handler) GetFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, f)
}

// CreateFeed validates the feed URL, stores the feed and queues its first
// fetch.
func (h *Handler) CreateFeed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if req.Name == "" || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and URL are required"})
		return
	}

	ctx := c.Request.Context()

	existing, err := h.feedRepo.GetFeedByURL(ctx, req.URL)
	if err != nil {
		databaseError(c, "get_feed_by_url", err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed URL already exists", "feed_id": existing.ID})
		return
	}

	result, ok := h.validateURL(c, req.URL)
	if !ok {
		return
	}

	f := &database.Feed{}
	req.apply(f)
	if _, err := h.feedRepo.CreateFeed(ctx, f); err != nil {
		databaseError(c, "create_feed", err)
		return
	}

	activity.Emit(ctx, h.recorder, database.LogInfo, "feed_management", "Feed created", map[string]any{
		"feed_id": f.ID,
		"url":     f.URL,
		"dialect": result.Type,
	})

	if err := h.scheduler.EnqueueFeed(*f); err != nil {
		slog.Warn("Initial fetch not queued", "feed_id", f.ID, "error", err)
	}

	c.JSON(http.StatusCreated, f)
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if req.Name == "" || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and URL are required"})
		return
	}

	if req.URL != f.URL {
		if _, ok := h.validateURL(c, req.URL); !ok {
			return
		}
	}

	req.apply(f)
	if err := h.feedRepo.UpdateFeed(c.Request.Context(), f); err != nil {
		respondMutationError(c, "update_feed", err)
		return
	}

	c.JSON(http.StatusOK, f)
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.feedRepo.DeleteFeed(c.Request.Context(), id); err != nil {
		respondMutationError(c, "delete_feed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ActivateFeed returns a feed to service and clears its error count.
func (h *Handler) ActivateFeed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.feedRepo.SetFeedStatus(c.Request.Context(), id, database.FeedStatusActive); err != nil {
		respondMutationError(c, "activate_feed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": database.FeedStatusActive})
}

// FetchFeed queues an immediate fetch of one feed regardless of its
// polling interval.
func (h *Handler) FetchFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	if err := h.scheduler.EnqueueFeed(*f); err != nil {
		switch {
		case errors.Is(err, tasks.ErrAlreadyQueued):
			c.JSON(http.StatusConflict, gin.H{"error": "Feed fetch already queued"})
		case errors.Is(err, tasks.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full"})
		default:
			slog.Error("Error enqueueing feed", "feed_id", f.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue feed", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "feed_id": f.ID})
}

func (h *Handler) ValidateFeed(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	result, ok := h.validateURL(c, req.URL)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, result)
}

// validateURL runs the feed validator and writes a 422 response describing
// the failure when the URL is not a usable feed.
func (h *Handler) validateURL(c *gin.Context, rawURL string) (*feed.ValidationResult, bool) {
	result, err := h.validator.Validate(c.Request.Context(), rawURL)
	if err != nil {
		var validationErr *feed.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"valid":   false,
				"code":    validationErr.Code,
				"message": validationErr.Message,
			})
			return nil, false
		}
		slog.Error("Feed validation failed", "url", rawURL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Feed validation failed"})
		return nil, false
	}
	return result, true
}

func (h *Handler) loadFeed(c *gin.Context) (*database.Feed, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}

	f, err := h.feedRepo.GetFeed(c.Request.Context(), id)
	if err != nil {
		databaseError(c, "get_feed", err)
		return nil, false
	}
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}
	return f, true
}
