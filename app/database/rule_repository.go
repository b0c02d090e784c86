package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = `id, name, feed_id, priority, conditions, actions, webhook_id, active,
	execution_count, success_count, created_at, updated_at`

type ruleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) CreateRule(ctx context.Context, rule *Rule) (int64, error) {
	now := Now()
	rule.Priority = cmp.Or(rule.Priority, 10)
	rule.Conditions = cmp.Or(rule.Conditions, "[]")
	rule.Actions = cmp.Or(rule.Actions, "[]")
	rule.CreatedAt, rule.UpdatedAt = now, now

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO rules (name, feed_id, priority, conditions, actions, webhook_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rule.Name, rule.FeedID, rule.Priority, rule.Conditions, rule.Actions, rule.WebhookID, rule.Active, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create rule: %w", err)
	}

	rule.ID = id
	return id, nil
}

func (r *ruleRepository) GetRule(ctx context.Context, id int64) (*Rule, error) {
	return r.getOne(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
}

func (r *ruleRepository) GetRuleByName(ctx context.Context, name string) (*Rule, error) {
	return r.getOne(ctx, `SELECT `+ruleColumns+` FROM rules WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (r *ruleRepository) getOne(ctx context.Context, query string, arg any) (*Rule, error) {
	var rule Rule
	if err := r.db.GetContext(ctx, &rule, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (r *ruleRepository) ListRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := r.db.SelectContext(ctx, &rules, `SELECT `+ruleColumns+` FROM rules ORDER BY priority, id`); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = Now()
	return execRequireRows(ctx, r.db, `
		UPDATE rules SET name = ?, feed_id = ?, priority = ?, conditions = ?, actions = ?,
			webhook_id = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.FeedID, rule.Priority, rule.Conditions, rule.Actions,
		rule.WebhookID, rule.Active, rule.UpdatedAt, rule.ID)
}

func (r *ruleRepository) DeleteRule(ctx context.Context, id int64) error {
	return execRequireRows(ctx, r.db, `DELETE FROM rules WHERE id = ?`, id)
}

// ToggleRule flips the active flag and returns the new value.
func (r *ruleRepository) ToggleRule(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.db.QueryRowxContext(ctx, `
		UPDATE rules SET active = 1 - active, updated_at = ? WHERE id = ? RETURNING active`,
		Now(), id).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to toggle rule: %w", err)
	}
	return active, nil
}

// ListApplicableRules returns the active rules for a feed plus the active
// rules that apply to every feed, by ascending priority. Equal priorities
// keep creation order.
func (r *ruleRepository) ListApplicableRules(ctx context.Context, feedID int64) ([]Rule, error) {
	var rules []Rule
	err := r.db.SelectContext(ctx, &rules, `
		SELECT `+ruleColumns+` FROM rules
		WHERE (feed_id = ? OR feed_id IS NULL) AND active = 1
		ORDER BY priority ASC, id ASC`, feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applicable rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) IncrementRuleCounters(ctx context.Context, id int64, succeeded bool) error {
	success := 0
	if succeeded {
		success = 1
	}
	return execRequireRows(ctx, r.db, `
		UPDATE rules SET execution_count = execution_count + 1, success_count = success_count + ?
		WHERE id = ?`, success, id)
}
