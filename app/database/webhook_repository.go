package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var _ WebhookRepository = (*webhookRepository)(nil)

const webhookColumns = `id, name, url, auth_token, workflow_name, workflow_description, processing_type,
	active, test_mode, timeout_seconds, retry_attempts, success_count, error_count, last_used,
	created_at, updated_at`

type webhookRepository struct {
	db *DB
}

func NewWebhookRepository(db *DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) CreateWebhook(ctx context.Context, webhook *Webhook) (int64, error) {
	if webhook.AuthToken == "" {
		return 0, errors.New("webhook auth token is required")
	}

	now := Now()
	webhook.ProcessingType = cmp.Or(webhook.ProcessingType, ProcessingContentRewrite)
	webhook.TimeoutSeconds = cmp.Or(webhook.TimeoutSeconds, 30)
	webhook.CreatedAt, webhook.UpdatedAt = now, now

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO webhooks (name, url, auth_token, workflow_name, workflow_description, processing_type,
			active, test_mode, timeout_seconds, retry_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		webhook.Name, webhook.URL, webhook.AuthToken, webhook.WorkflowName, webhook.WorkflowDescription,
		webhook.ProcessingType, webhook.Active, webhook.TestMode, webhook.TimeoutSeconds, webhook.RetryAttempts,
		now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook: %w", err)
	}

	webhook.ID = id
	return id, nil
}

func (r *webhookRepository) GetWebhook(ctx context.Context, id int64) (*Webhook, error) {
	return r.getOne(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
}

func (r *webhookRepository) GetWebhookByName(ctx context.Context, name string) (*Webhook, error) {
	return r.getOne(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (r *webhookRepository) GetActiveWebhook(ctx context.Context, id int64) (*Webhook, error) {
	return r.getOne(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ? AND active = 1`, id)
}

func (r *webhookRepository) getOne(ctx context.Context, query string, arg any) (*Webhook, error) {
	var webhook Webhook
	if err := r.db.GetContext(ctx, &webhook, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return &webhook, nil
}

func (r *webhookRepository) ListWebhooks(ctx context.Context, activeOnly bool) ([]Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name, id`

	var webhooks []Webhook
	if err := r.db.SelectContext(ctx, &webhooks, query); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *webhookRepository) UpdateWebhook(ctx context.Context, webhook *Webhook) error {
	webhook.UpdatedAt = Now()
	return execRequireRows(ctx, r.db, `
		UPDATE webhooks SET name = ?, url = ?, workflow_name = ?, workflow_description = ?,
			processing_type = ?, active = ?, test_mode = ?, timeout_seconds = ?, retry_attempts = ?,
			updated_at = ?
		WHERE id = ?`,
		webhook.Name, webhook.URL, webhook.WorkflowName, webhook.WorkflowDescription,
		webhook.ProcessingType, webhook.Active, webhook.TestMode, webhook.TimeoutSeconds, webhook.RetryAttempts,
		webhook.UpdatedAt, webhook.ID)
}

func (r *webhookRepository) DeleteWebhook(ctx context.Context, id int64) error {
	return execRequireRows(ctx, r.db, `DELETE FROM webhooks WHERE id = ?`, id)
}

func (r *webhookRepository) ListActiveTokens(ctx context.Context) ([]WebhookToken, error) {
	var tokens []WebhookToken
	if err := r.db.SelectContext(ctx, &tokens, `SELECT id, auth_token FROM webhooks WHERE active = 1`); err != nil {
		return nil, fmt.Errorf("failed to list webhook tokens: %w", err)
	}
	return tokens, nil
}

func (r *webhookRepository) IncrementWebhookSuccess(ctx context.Context, id int64) error {
	return execRequireRows(ctx, r.db, `
		UPDATE webhooks SET success_count = success_count + 1, last_used = ? WHERE id = ?`, Now(), id)
}

func (r *webhookRepository) IncrementWebhookError(ctx context.Context, id int64) error {
	return execRequireRows(ctx, r.db, `UPDATE webhooks SET error_count = error_count + 1 WHERE id = ?`, id)
}

func (r *webhookRepository) GetWebhookStats(ctx context.Context, id int64) (*WebhookStats, error) {
	var stats WebhookStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total_executions,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN status IN ('error', 'timeout') THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status IN ('pending', 'running') THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(AVG(CASE WHEN processing_time_ms > 0 THEN processing_time_ms END), 0) AS avg_processing_time,
			MAX(started_at) AS last_execution
		FROM executions WHERE webhook_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook stats: %w", err)
	}
	return &stats, nil
}
