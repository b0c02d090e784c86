package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/metrics"
)

const (
	defaultDispatchTimeout = 30 * time.Second
	maxResponseBody        = 1 << 20
)

// ContentStatusStore updates the processing status of the dispatched item.
type ContentStatusStore interface {
	UpdateContentRecord(ctx context.Context, id int64, update database.ContentUpdate) error
}

type DispatcherOptions struct {
	CallbackURL string
	UserAgent   string
	Client      *http.Client
	Limiter     *rate.Limiter
	// Retries enables retrying transport errors and 5xx responses up to the
	// webhook's retry_attempts.
	Retries bool
}

type Dispatcher struct {
	webhooks   database.WebhookRepository
	executions database.ExecutionRepository
	content    ContentStatusStore
	opts       DispatcherOptions
	recorder   activity.Recorder
	metrics    *metrics.Metrics
}

func NewDispatcher(
	webhooks database.WebhookRepository,
	executions database.ExecutionRepository,
	content ContentStatusStore,
	opts DispatcherOptions,
	recorder activity.Recorder,
	m *metrics.Metrics,
) *Dispatcher {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(0, 0)
	}
	return &Dispatcher{
		webhooks:   webhooks,
		executions: executions,
		content:    content,
		opts:       opts,
		recorder:   recorder,
		metrics:    m,
	}
}

// NewRateLimiter allows requests dispatches per window with a burst of the
// full window allowance. Non-positive values disable limiting.
func NewRateLimiter(requests int, window time.Duration) *rate.Limiter {
	if requests <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(requests)/window.Seconds()), requests)
}

type response struct {
	status int
	body   []byte
}

// Dispatch posts payload to the active webhook and records the execution.
// On success the execution is running and awaits a callback.
func (d *Dispatcher) Dispatch(ctx context.Context, webhookID int64, payload ContentPayload) (*DispatchResult, error) {
	webhook, err := d.webhooks.GetActiveWebhook(ctx, webhookID)
	if err != nil {
		return nil, &DispatchError{Kind: DispatchInternal, WebhookID: webhookID, Cause: err}
	}
	if webhook == nil {
		return nil, &DispatchError{Kind: DispatchNotFound, WebhookID: webhookID}
	}

	executionID := uuid.NewString()
	body, err := json.Marshal(requestPayload{
		ExecutionID:    executionID,
		WebhookID:      webhook.ID,
		CallbackURL:    d.opts.CallbackURL,
		AuthToken:      webhook.AuthToken,
		Content:        payload.Content,
		Title:          payload.Title,
		SourceURL:      payload.SourceURL,
		Metadata:       nonNilMap(payload.Metadata),
		ProcessingType: webhook.ProcessingType,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, &DispatchError{Kind: DispatchInternal, WebhookID: webhookID, Cause: err}
	}

	_, err = d.executions.CreateExecution(ctx, &database.Execution{
		ItemID:         payload.ItemID,
		WebhookID:      webhook.ID,
		ExecutionID:    executionID,
		Status:         database.ExecutionPending,
		RequestPayload: string(body),
	})
	if err != nil {
		return nil, &DispatchError{Kind: DispatchInternal, WebhookID: webhookID, Cause: err}
	}

	// A refused dispatch is recorded as a failed execution.
	if !d.opts.Limiter.Allow() {
		d.metrics.Dispatched("rate_limited", 0)
		return nil, d.fail(ctx, webhook, payload.ItemID, &DispatchError{
			Kind: DispatchRateLimited, WebhookID: webhook.ID, ExecutionID: executionID,
		}, "dispatch rate limit exceeded")
	}

	start := time.Now()
	resp, err := d.send(ctx, webhook, body)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		d.metrics.Dispatched("transport_error", elapsed)
		return nil, d.fail(ctx, webhook, payload.ItemID, &DispatchError{
			Kind: DispatchTransport, WebhookID: webhook.ID, ExecutionID: executionID, Cause: err,
		}, err.Error())
	}

	if resp.status < 200 || resp.status >= 300 {
		d.metrics.Dispatched("http_error", elapsed)
		message := fmt.Sprintf("HTTP %d: %s", resp.status, resp.body)
		return nil, d.fail(ctx, webhook, payload.ItemID, &DispatchError{
			Kind: DispatchHTTP, WebhookID: webhook.ID, ExecutionID: executionID, StatusCode: resp.status,
		}, message)
	}

	d.metrics.Dispatched("accepted", elapsed)

	// The remote has accepted; record it even if the caller is shutting down.
	persistCtx := context.WithoutCancel(ctx)
	applied, err := d.executions.MarkExecutionRunning(persistCtx, executionID, string(resp.body))
	if err != nil {
		return nil, &DispatchError{Kind: DispatchInternal, WebhookID: webhook.ID, ExecutionID: executionID, Cause: err}
	}
	// A callback that arrived before the response already settled the
	// execution and the item.
	if applied {
		if err := d.webhooks.IncrementWebhookSuccess(persistCtx, webhook.ID); err != nil {
			activity.Emit(ctx, d.recorder, database.LogWarning, "webhook", "Failed to update webhook counters",
				map[string]any{"webhook_id": webhook.ID, "error": err.Error()})
		}
		d.setItemStatus(persistCtx, payload.ItemID, database.ProcessingProcessing)
	}

	activity.Emit(ctx, d.recorder, database.LogInfo, "webhook", "Content sent to webhook", map[string]any{
		"webhook_id":   webhook.ID,
		"execution_id": executionID,
		"item_id":      payload.ItemID,
	})

	result := &DispatchResult{ExecutionID: executionID, WebhookID: webhook.ID, StatusCode: resp.status}
	var decoded map[string]any
	if json.Unmarshal(resp.body, &decoded) == nil {
		result.Response = decoded
	}
	return result, nil
}

func (d *Dispatcher) fail(ctx context.Context, webhook *database.Webhook, itemID int64, dispatchErr *DispatchError, message string) error {
	persistCtx := context.WithoutCancel(ctx)
	applied, err := d.executions.MarkExecutionFailed(persistCtx, dispatchErr.ExecutionID, message)
	if err != nil {
		return fmt.Errorf("failed to record dispatch failure: %w", err)
	}
	if applied {
		// Rate-limit refusals never reached the workflow and do not count
		// against it.
		if dispatchErr.Kind != DispatchRateLimited {
			if err := d.webhooks.IncrementWebhookError(persistCtx, webhook.ID); err != nil {
				activity.Emit(ctx, d.recorder, database.LogWarning, "webhook", "Failed to update webhook counters",
					map[string]any{"webhook_id": webhook.ID, "error": err.Error()})
			}
		}
		d.setItemStatus(persistCtx, itemID, database.ProcessingError)
	}

	activity.Emit(ctx, d.recorder, database.LogError, "webhook", "Webhook dispatch failed", map[string]any{
		"webhook_id":   webhook.ID,
		"execution_id": dispatchErr.ExecutionID,
		"item_id":      itemID,
		"error":        message,
	})
	return dispatchErr
}

func (d *Dispatcher) setItemStatus(ctx context.Context, itemID int64, status database.ProcessingStatus) {
	if itemID == 0 || d.content == nil {
		return
	}
	if err := d.content.UpdateContentRecord(ctx, itemID, database.ContentUpdate{ProcessingStatus: &status}); err != nil {
		activity.Emit(ctx, d.recorder, database.LogWarning, "webhook", "Failed to update item status",
			map[string]any{"item_id": itemID, "status": string(status), "error": err.Error()})
	}
}

func (d *Dispatcher) send(ctx context.Context, webhook *database.Webhook, body []byte) (*response, error) {
	if !d.opts.Retries || webhook.RetryAttempts <= 0 {
		return d.post(ctx, webhook, body)
	}

	var resp *response
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	err := backoff.Retry(func() error {
		r, err := d.post(ctx, webhook, body)
		if err != nil {
			resp = nil
			return err
		}
		resp = r
		if r.status >= 500 {
			return fmt.Errorf("HTTP %d", r.status)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(webhook.RetryAttempts)), ctx))

	// A final 5xx is reported as an HTTP failure, not a transport error.
	if resp != nil && resp.status >= 500 {
		return resp, nil
	}
	return resp, err
}

func (d *Dispatcher) post(ctx context.Context, webhook *database.Webhook, body []byte) (*response, error) {
	timeout := defaultDispatchTimeout
	if webhook.TimeoutSeconds > 0 {
		timeout = time.Duration(webhook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", webhook.AuthToken)
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	res, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	return &response{status: res.StatusCode, body: data}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
