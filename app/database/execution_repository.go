package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

var _ ExecutionRepository = (*executionRepository)(nil)

var executionColumns = []string{
	"id", "item_id", "webhook_id", "execution_id", "status", "request_payload", "response_payload",
	"error_message", "processing_time_ms", "started_at", "completed_at",
}

type executionRepository struct {
	db *DB
}

func NewExecutionRepository(db *DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) CreateExecution(ctx context.Context, execution *Execution) (int64, error) {
	execution.Status = cmp.Or(execution.Status, ExecutionPending)
	if execution.StartedAt.IsZero() {
		execution.StartedAt = Now()
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO executions (item_id, webhook_id, execution_id, status, request_payload, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		execution.ItemID, execution.WebhookID, execution.ExecutionID, execution.Status,
		execution.RequestPayload, execution.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create execution: %w", err)
	}

	execution.ID = id
	return id, nil
}

func (r *executionRepository) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(executionColumns...).From("executions").Where(sb.Equal("execution_id", executionID))
	query, args := sb.Build()

	var execution Execution
	if err := r.db.GetContext(ctx, &execution, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &execution, nil
}

func (r *executionRepository) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(executionColumns...).From("executions")
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	if filter.WebhookID > 0 {
		sb.Where(sb.Equal("webhook_id", filter.WebhookID))
	}
	if filter.ItemID > 0 {
		sb.Where(sb.Equal("item_id", filter.ItemID))
	}
	sb.OrderBy("id").Desc()
	sb.Limit(cmp.Or(filter.Limit, 50))

	query, args := sb.Build()

	var executions []Execution
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

// MarkExecutionRunning records acceptance by the remote workflow. It only
// applies to pending executions so a callback that already completed the
// execution is never overwritten.
func (r *executionRepository) MarkExecutionRunning(ctx context.Context, executionID string, responsePayload string) (bool, error) {
	return execAffected(ctx, r.db, `
		UPDATE executions SET status = ?, response_payload = ?
		WHERE execution_id = ? AND status = ?`,
		ExecutionRunning, responsePayload, executionID, ExecutionPending)
}

// MarkExecutionFailed records a dispatch-time failure on a pending execution.
func (r *executionRepository) MarkExecutionFailed(ctx context.Context, executionID string, message string) (bool, error) {
	return execAffected(ctx, r.db, `
		UPDATE executions SET status = ?, error_message = ?, completed_at = ?
		WHERE execution_id = ? AND status = ?`,
		ExecutionError, message, Now(), executionID, ExecutionPending)
}

// CompleteExecution claims a non-terminal execution and stores its outcome.
// It reports false when the execution was already terminal.
func (r *executionRepository) CompleteExecution(ctx context.Context, executionID string, result ExecutionResult) (bool, error) {
	if !result.Status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", result.Status)
	}
	return execAffected(ctx, r.db, `
		UPDATE executions SET status = ?, response_payload = ?, error_message = ?,
			processing_time_ms = ?, completed_at = ?
		WHERE execution_id = ? AND status IN (?, ?)`,
		result.Status, result.ResponsePayload, result.ErrorMessage,
		result.ProcessingTimeMs, Now(), executionID, ExecutionPending, ExecutionRunning)
}
