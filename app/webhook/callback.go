package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/metrics"
)

// ContentListener is notified after a workflow result has been stored as a
// draft post.
type ContentListener interface {
	ContentProcessed(ctx context.Context, postID, itemID int64, execution *database.Execution)
}

type ContentListenerFunc func(ctx context.Context, postID, itemID int64, execution *database.Execution)

func (f ContentListenerFunc) ContentProcessed(ctx context.Context, postID, itemID int64, execution *database.Execution) {
	f(ctx, postID, itemID, execution)
}

type CallbackHandler struct {
	webhooks   database.WebhookRepository
	executions database.ExecutionRepository
	content    database.ContentRepository
	listeners  []ContentListener
	recorder   activity.Recorder
	metrics    *metrics.Metrics
}

func NewCallbackHandler(
	webhooks database.WebhookRepository,
	executions database.ExecutionRepository,
	content database.ContentRepository,
	recorder activity.Recorder,
	m *metrics.Metrics,
	listeners ...ContentListener,
) *CallbackHandler {
	return &CallbackHandler{
		webhooks:   webhooks,
		executions: executions,
		content:    content,
		listeners:  listeners,
		recorder:   recorder,
		metrics:    m,
	}
}

// Handle authenticates and applies a workflow callback. Repeated callbacks
// for an execution that is already terminal are acknowledged without
// side effects.
func (h *CallbackHandler) Handle(ctx context.Context, token string, payload CallbackPayload) (*CallbackResult, error) {
	webhookIDs, err := h.authenticate(ctx, token)
	if err != nil {
		h.metrics.CallbackReceived("unauthorized")
		return nil, err
	}

	if payload.ExecutionID == "" {
		h.metrics.CallbackReceived("invalid")
		return nil, &CallbackValidationError{Message: "execution_id is required"}
	}

	execution, err := h.executions.GetExecution(ctx, payload.ExecutionID)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		h.metrics.CallbackReceived("not_found")
		return nil, &CallbackNotFoundError{ExecutionID: payload.ExecutionID}
	}

	if !lo.Contains(webhookIDs, execution.WebhookID) {
		h.metrics.CallbackReceived("unauthorized")
		return nil, &CallbackAuthError{Reason: "token does not belong to the execution's webhook"}
	}

	status := database.ExecutionStatus(payload.Status)
	if status == "" {
		status = database.ExecutionSuccess
	}
	errorMessage, failed := payload.ErrorMessage()
	if failed {
		status = database.ExecutionError
	}
	if !status.Terminal() {
		h.metrics.CallbackReceived("invalid")
		return nil, &CallbackValidationError{Message: fmt.Sprintf("status %q is not terminal", payload.Status)}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	result := executionResult(status, string(raw), errorMessage, payload.ProcessingTime())
	claimed, err := h.executions.CompleteExecution(ctx, execution.ExecutionID, result)
	if err != nil {
		return nil, err
	}

	if !claimed {
		h.metrics.CallbackReceived("duplicate")
		activity.Emit(ctx, h.recorder, database.LogInfo, "webhook_callback", "Duplicate webhook callback ignored",
			map[string]any{"execution_id": execution.ExecutionID, "status": string(status)})
		return &CallbackResult{ExecutionID: execution.ExecutionID, Status: status, Duplicate: true}, nil
	}

	execution.Status = status
	out := &CallbackResult{ExecutionID: execution.ExecutionID, Status: status}

	switch {
	case execution.ItemID == 0:
	case status == database.ExecutionSuccess && payload.ProcessedContent != nil:
		postID, err := h.createPost(ctx, execution, payload.ProcessedContent)
		if err != nil {
			activity.Emit(ctx, h.recorder, database.LogError, "webhook_callback", "Failed to store processed content",
				map[string]any{"execution_id": execution.ExecutionID, "item_id": execution.ItemID, "error": err.Error()})
		}
		out.PostID = postID
	case status == database.ExecutionSuccess:
		h.setItemStatus(ctx, execution.ItemID, database.ProcessingCompleted)
	default:
		h.setItemStatus(ctx, execution.ItemID, database.ProcessingError)
	}

	h.metrics.CallbackReceived(string(status))
	activity.Emit(ctx, h.recorder, database.LogInfo, "webhook_callback", "Webhook callback received", map[string]any{
		"execution_id": execution.ExecutionID,
		"status":       string(status),
	})

	return out, nil
}

func executionResult(status database.ExecutionStatus, raw, errorMessage string, processingTimeMs int64) database.ExecutionResult {
	return database.ExecutionResult{
		Status:           status,
		ResponsePayload:  raw,
		ErrorMessage:     errorMessage,
		ProcessingTimeMs: processingTimeMs,
	}
}

// Authenticate checks token against the active webhooks before a payload is
// read.
func (h *CallbackHandler) Authenticate(ctx context.Context, token string) error {
	_, err := h.authenticate(ctx, token)
	var authErr *CallbackAuthError
	if errors.As(err, &authErr) {
		h.metrics.CallbackReceived("unauthorized")
	}
	return err
}

func (h *CallbackHandler) authenticate(ctx context.Context, token string) ([]int64, error) {
	if token == "" {
		return nil, &CallbackAuthError{Reason: "missing token"}
	}

	tokens, err := h.webhooks.ListActiveTokens(ctx)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t.AuthToken), []byte(token)) == 1 {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil, &CallbackAuthError{Reason: "invalid token"}
	}
	return ids, nil
}

func (h *CallbackHandler) createPost(ctx context.Context, execution *database.Execution, processed *ProcessedContent) (int64, error) {
	item, err := h.content.GetContentRecord(ctx, execution.ItemID)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, fmt.Errorf("item %d no longer exists", execution.ItemID)
	}

	meta := database.JSONMap{
		"ai_provenance": map[string]any{
			"processor":    "n8n_webhook",
			"execution_id": execution.ExecutionID,
			"webhook_id":   execution.WebhookID,
			"processed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if seo := processed.SEO; seo != nil {
		if seo.MetaDescription != "" {
			meta["seo_meta_description"] = seo.MetaDescription
		}
		if seo.FocusKeywords != "" {
			meta["seo_focus_keywords"] = seo.FocusKeywords
		}
	}

	post := &database.ContentRecord{
		Kind:             database.ContentKindPost,
		ParentID:         &item.ID,
		FeedID:           item.FeedID,
		Title:            lo.FromPtrOr(processed.Title, item.Title),
		Content:          lo.FromPtrOr(processed.Content, item.Content),
		Excerpt:          lo.FromPtr(processed.Excerpt),
		Visibility:       database.VisibilityDraft,
		ProcessingStatus: database.ProcessingCompleted,
		SourceURL:        item.SourceURL,
		SourceGUID:       item.SourceGUID,
		CanonicalURL:     item.CanonicalURL,
		SourceLicense:    item.SourceLicense,
		SourceSite:       item.SourceSite,
		Author:           item.Author,
		Categories:       processed.Categories,
		Tags:             processed.Tags,
		Meta:             meta,
		PublishedAt:      item.PublishedAt,
	}

	postID, err := h.content.CreateContentRecord(ctx, post)
	if err != nil {
		return 0, err
	}

	completed := database.ProcessingCompleted
	if err := h.content.UpdateContentRecord(ctx, item.ID, database.ContentUpdate{
		ProcessingStatus: &completed,
		Meta:             map[string]any{"processed_post_id": postID},
	}); err != nil {
		return postID, err
	}

	for _, l := range h.listeners {
		l.ContentProcessed(ctx, postID, item.ID, execution)
	}

	activity.Emit(ctx, h.recorder, database.LogInfo, "content", "Processed content stored as draft", map[string]any{
		"post_id":      postID,
		"item_id":      item.ID,
		"execution_id": execution.ExecutionID,
	})
	return postID, nil
}

func (h *CallbackHandler) setItemStatus(ctx context.Context, itemID int64, status database.ProcessingStatus) {
	if err := h.content.UpdateContentRecord(ctx, itemID, database.ContentUpdate{ProcessingStatus: &status}); err != nil {
		activity.Emit(ctx, h.recorder, database.LogWarning, "webhook_callback", "Failed to update item status",
			map[string]any{"item_id": itemID, "status": string(status), "error": err.Error()})
	}
}
