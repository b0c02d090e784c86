package rules

import (
	"fmt"
	"regexp"
)

// Condition is one of TextCondition, CategoryCondition, LengthCondition,
// HasMediaCondition or DomainCondition.
type Condition interface {
	condition()
}

type TextField string

const (
	FieldTitle       TextField = "title"
	FieldContent     TextField = "content"
	FieldAuthor      TextField = "author"
	FieldSource      TextField = "source"
	FieldDescription TextField = "description"
	FieldLink        TextField = "link"
)

type TextOperator string

const (
	OpContains    TextOperator = "contains"
	OpNotContains TextOperator = "not_contains"
	OpEquals      TextOperator = "equals"
	OpNotEquals   TextOperator = "not_equals"
	OpStartsWith  TextOperator = "starts_with"
	OpEndsWith    TextOperator = "ends_with"
	OpRegex       TextOperator = "regex"
)

type NumericOperator string

const (
	OpNumEquals   NumericOperator = "equals"
	OpGreaterThan NumericOperator = "greater_than"
	OpLessThan    NumericOperator = "less_than"
)

type TextCondition struct {
	Field    TextField
	Operator TextOperator
	Value    string
	pattern  *regexp.Regexp
}

type CategoryCondition struct {
	Operator TextOperator // contains or not_contains
	Value    string
}

// LengthCondition compares the rune count of the tag-stripped content.
type LengthCondition struct {
	Operator NumericOperator
	Value    int
}

type HasMediaCondition struct{}

// DomainCondition matches the host of the item link.
type DomainCondition struct {
	Value string
}

func (TextCondition) condition()     {}
func (CategoryCondition) condition() {}
func (LengthCondition) condition()   {}
func (HasMediaCondition) condition() {}
func (DomainCondition) condition()   {}

// Action is one of SendToWebhook, AssignCategory or AssignTags.
type Action interface {
	action()
}

type SendToWebhook struct {
	WebhookID int64
}

type AssignCategory struct {
	Value string
}

type AssignTags struct {
	Value []string
}

func (SendToWebhook) action()  {}
func (AssignCategory) action() {}
func (AssignTags) action()     {}

// Rule is a decoded rule ready for evaluation.
type Rule struct {
	ID         int64
	Name       string
	FeedID     *int64
	Priority   int
	WebhookID  *int64
	Conditions []Condition
	Actions    []Action
}

// RuleEvaluationError marks a rule whose stored definition cannot be
// decoded. Such a rule never matches.
type RuleEvaluationError struct {
	RuleID int64
	Cause  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Cause)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Cause }
