package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/metrics"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

type RuleSource interface {
	ListApplicableRules(ctx context.Context, feedID int64) ([]database.Rule, error)
	IncrementRuleCounters(ctx context.Context, id int64, succeeded bool) error
}

type ContentAnnotator interface {
	UpdateContentRecord(ctx context.Context, id int64, update database.ContentUpdate) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, webhookID int64, payload webhook.ContentPayload) (*webhook.DispatchResult, error)
}

type Engine struct {
	rules      RuleSource
	content    ContentAnnotator
	dispatcher Dispatcher
	recorder   activity.Recorder
	metrics    *metrics.Metrics
}

func NewEngine(rules RuleSource, content ContentAnnotator, dispatcher Dispatcher, recorder activity.Recorder, m *metrics.Metrics) *Engine {
	return &Engine{
		rules:      rules,
		content:    content,
		dispatcher: dispatcher,
		recorder:   recorder,
		metrics:    m,
	}
}

// Match returns the first rule, in priority order, whose conditions all
// hold for item. Rules that fail to decode are logged and skipped.
func (e *Engine) Match(ctx context.Context, item feed.Item) (*Rule, error) {
	stored, err := e.rules.ListApplicableRules(ctx, item.FeedID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	s := newSubject(item)
	for _, r := range stored {
		rule, err := DecodeRule(r)
		if err != nil {
			activity.Emit(ctx, e.recorder, database.LogError, "rules", "Rule could not be evaluated", map[string]any{
				"rule_id": r.ID,
				"error":   err.Error(),
			})
			continue
		}
		if matches(rule.Conditions, s) {
			return rule, nil
		}
	}
	return nil, nil
}

type ActionOutcome struct {
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

type ExecutionReport struct {
	RuleID       int64           `json:"rule_id"`
	Actions      []ActionOutcome `json:"actions"`
	ExecutionIDs []string        `json:"execution_ids,omitempty"`
	Succeeded    bool            `json:"succeeded"`
}

// Execute runs the actions of a matched rule against the content record
// created for item and updates the rule counters.
func (e *Engine) Execute(ctx context.Context, rule *Rule, item feed.Item, source *database.Feed, recordID int64) *ExecutionReport {
	report := &ExecutionReport{RuleID: rule.ID, Succeeded: true}

	for _, action := range rule.Actions {
		var (
			description string
			err         error
		)

		switch a := action.(type) {
		case AssignCategory:
			description = "Assigned category: " + a.Value
			err = e.content.UpdateContentRecord(ctx, recordID, database.ContentUpdate{
				Meta: map[string]any{"auto_assigned_category": a.Value},
			})
		case AssignTags:
			description = "Assigned tags: " + strings.Join(a.Value, ", ")
			err = e.content.UpdateContentRecord(ctx, recordID, database.ContentUpdate{
				Meta: map[string]any{"auto_assigned_tags": a.Value},
			})
		case SendToWebhook:
			description = fmt.Sprintf("Sent to webhook ID: %d", a.WebhookID)
			var result *webhook.DispatchResult
			result, err = e.dispatcher.Dispatch(ctx, a.WebhookID, contentPayload(rule, item, source, recordID))
			if result != nil {
				report.ExecutionIDs = append(report.ExecutionIDs, result.ExecutionID)
			}
		default:
			err = fmt.Errorf("unsupported action %T", action)
		}

		outcome := ActionOutcome{Description: description}
		if err != nil {
			report.Succeeded = false
			outcome.Error = err.Error()
			activity.Emit(ctx, e.recorder, database.LogError, "rules", "Rule action failed", map[string]any{
				"rule_id": rule.ID,
				"item_id": recordID,
				"action":  description,
				"error":   err.Error(),
			})
		}
		report.Actions = append(report.Actions, outcome)
	}

	if err := e.rules.IncrementRuleCounters(ctx, rule.ID, report.Succeeded); err != nil && !errors.Is(err, database.ErrNotFound) {
		activity.Emit(ctx, e.recorder, database.LogWarning, "rules", "Failed to update rule counters", map[string]any{
			"rule_id": rule.ID,
			"error":   err.Error(),
		})
	}

	e.metrics.RuleMatched(rule.Name)
	activity.Emit(ctx, e.recorder, database.LogInfo, "rules", "Rule applied", map[string]any{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"item_id":   recordID,
		"succeeded": report.Succeeded,
	})
	return report
}

func contentPayload(rule *Rule, item feed.Item, source *database.Feed, recordID int64) webhook.ContentPayload {
	metadata := map[string]any{
		"author":     item.Author,
		"categories": lo.Ternary(item.Categories == nil, []string{}, item.Categories),
		"pub_date":   item.PublishedAt.UTC().Format(time.RFC3339),
		"rule_id":    rule.ID,
		"rule_name":  rule.Name,
	}
	if source != nil {
		metadata["feed_id"] = source.ID
		metadata["feed_name"] = source.Name
	}
	if item.HasMedia() {
		metadata["enclosures"] = item.Enclosures
	}

	return webhook.ContentPayload{
		ItemID:    recordID,
		Title:     item.Title,
		Content:   item.Content,
		SourceURL: item.Link,
		Metadata:  metadata,
	}
}

// Definition is an unsaved rule body used for dry runs.
type Definition struct {
	Conditions string
	Actions    string
	WebhookID  *int64
}

type TestReport struct {
	Matched    bool              `json:"matched"`
	Conditions []ConditionResult `json:"conditions"`
	Actions    []string          `json:"actions"`
}

// Test evaluates every condition of def against sample without
// short-circuiting and describes the actions that would run. It has no side
// effects.
func Test(def Definition, sample feed.Item) (*TestReport, error) {
	conditions, err := DecodeConditions(def.Conditions)
	if err != nil {
		return nil, err
	}
	actions, err := decodeActions(def.Actions, def.WebhookID)
	if err != nil {
		return nil, err
	}

	s := newSubject(sample)
	report := &TestReport{Matched: true, Conditions: []ConditionResult{}, Actions: []string{}}
	for _, c := range conditions {
		r := evaluate(c, s)
		report.Matched = report.Matched && r.Matched
		report.Conditions = append(report.Conditions, r)
	}

	if report.Matched {
		for _, a := range actions {
			report.Actions = append(report.Actions, describe(a))
		}
	}
	return report, nil
}

func describe(a Action) string {
	switch a := a.(type) {
	case AssignCategory:
		return "Would assign category: " + a.Value
	case AssignTags:
		return "Would assign tags: " + strings.Join(a.Value, ", ")
	case SendToWebhook:
		return fmt.Sprintf("Would send to webhook ID: %d", a.WebhookID)
	}
	return fmt.Sprintf("Unknown action: %T", a)
}
