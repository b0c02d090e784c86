package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-planner/app/database"
)

type wireCondition struct {
	Type     string          `json:"type"`
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type wireAction struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

var textConditionFields = map[string]TextField{
	"title_condition":   FieldTitle,
	"content_condition": FieldContent,
	"author_condition":  FieldAuthor,
	"source_condition":  FieldSource,
}

// DecodeRule turns a stored rule into its evaluable form. Send actions
// without a webhook fall back to the rule's webhook_id.
func DecodeRule(stored database.Rule) (*Rule, error) {
	conditions, err := DecodeConditions(stored.Conditions)
	if err != nil {
		return nil, &RuleEvaluationError{RuleID: stored.ID, Cause: err}
	}

	actions, err := decodeActions(stored.Actions, stored.WebhookID)
	if err != nil {
		return nil, &RuleEvaluationError{RuleID: stored.ID, Cause: err}
	}

	return &Rule{
		ID:         stored.ID,
		Name:       stored.Name,
		FeedID:     stored.FeedID,
		Priority:   stored.Priority,
		WebhookID:  stored.WebhookID,
		Conditions: conditions,
		Actions:    actions,
	}, nil
}

// ValidateDefinition checks condition and action JSON before it is stored.
func ValidateDefinition(conditions, actions string, webhookID *int64) error {
	if _, err := DecodeConditions(conditions); err != nil {
		return err
	}
	_, err := decodeActions(actions, webhookID)
	return err
}

func DecodeConditions(data string) ([]Condition, error) {
	var wire []wireCondition
	if err := unmarshalList(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	conditions := make([]Condition, 0, len(wire))
	for i, w := range wire {
		c, err := decodeCondition(w)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conditions = append(conditions, c)
	}
	return conditions, nil
}

func decodeCondition(w wireCondition) (Condition, error) {
	value, err := rawString(w.Value)
	if err != nil {
		return nil, err
	}

	switch w.Type {
	case "title_condition", "content_condition", "author_condition", "source_condition":
		field := textConditionFields[w.Type]
		if w.Field != "" {
			field = TextField(w.Field)
		}
		return newTextCondition(field, TextOperator(w.Operator), value)
	case "text_condition":
		return newTextCondition(TextField(w.Field), TextOperator(w.Operator), value)
	case "title_contains":
		return newTextCondition(FieldTitle, OpContains, value)
	case "content_contains":
		return newTextCondition(FieldContent, OpContains, value)
	case "category_condition":
		op := TextOperator(defaultOperator(w.Operator))
		if op != OpContains && op != OpNotContains {
			return nil, fmt.Errorf("unsupported category operator %q", w.Operator)
		}
		return CategoryCondition{Operator: op, Value: value}, nil
	case "length_condition":
		op := NumericOperator(w.Operator)
		if op != OpNumEquals && op != OpGreaterThan && op != OpLessThan {
			return nil, fmt.Errorf("unsupported length operator %q", w.Operator)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("length value %q is not an integer", value)
		}
		return LengthCondition{Operator: op, Value: n}, nil
	case "has_media":
		return HasMediaCondition{}, nil
	case "source_domain":
		if value == "" {
			return nil, fmt.Errorf("source_domain requires a value")
		}
		return DomainCondition{Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", w.Type)
	}
}

func newTextCondition(field TextField, op TextOperator, value string) (Condition, error) {
	switch field {
	case FieldTitle, FieldContent, FieldAuthor, FieldSource, FieldDescription, FieldLink:
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}

	op = TextOperator(defaultOperator(string(op)))
	c := TextCondition{Field: field, Operator: op, Value: value}

	switch op {
	case OpContains, OpNotContains, OpEquals, OpNotEquals, OpStartsWith, OpEndsWith:
	case OpRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", value, err)
		}
		c.pattern = re
	default:
		return nil, fmt.Errorf("unsupported text operator %q", op)
	}
	return c, nil
}

func defaultOperator(op string) string {
	if op == "" {
		return string(OpContains)
	}
	return op
}

func decodeActions(data string, ruleWebhook *int64) ([]Action, error) {
	var wire []wireAction
	if err := unmarshalList(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	actions := make([]Action, 0, len(wire))
	for i, w := range wire {
		a, err := decodeAction(w, ruleWebhook)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func decodeAction(w wireAction, ruleWebhook *int64) (Action, error) {
	switch w.Type {
	case "send_to_webhook":
		value, err := rawString(w.Value)
		if err != nil {
			return nil, err
		}
		if value = strings.TrimSpace(value); value != "" {
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid webhook id %q", value)
			}
			return SendToWebhook{WebhookID: id}, nil
		}
		if ruleWebhook == nil || *ruleWebhook <= 0 {
			return nil, fmt.Errorf("send_to_webhook without a webhook")
		}
		return SendToWebhook{WebhookID: *ruleWebhook}, nil
	case "assign_category":
		value, err := rawString(w.Value)
		if err != nil {
			return nil, err
		}
		if value = strings.TrimSpace(value); value == "" {
			return nil, fmt.Errorf("assign_category requires a value")
		}
		return AssignCategory{Value: value}, nil
	case "assign_tags":
		tags, err := rawList(w.Value)
		if err != nil {
			return nil, err
		}
		if len(tags) == 0 {
			return nil, fmt.Errorf("assign_tags requires a value")
		}
		return AssignTags{Value: tags}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", w.Type)
	}
}

func unmarshalList(data string, v any) error {
	data = strings.TrimSpace(data)
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// rawString accepts a JSON string, number or boolean.
func rawString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	switch raw[0] {
	case '{', '[':
		return "", fmt.Errorf("value must be a scalar")
	}
	return string(raw), nil
}

// rawList accepts a JSON array of strings or a comma-separated string.
func rawList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	var values []string
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, err
		}
	} else {
		s, err := rawString(raw)
		if err != nil {
			return nil, err
		}
		values = strings.Split(s, ",")
	}

	return lo.Uniq(lo.Compact(lo.Map(values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))), nil
}
