package rules

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lysyi3m/rss-planner/app/feed"
)

// ConditionResult describes how one condition evaluated against an item.
type ConditionResult struct {
	Type        string `json:"type"`
	Field       string `json:"field"`
	FieldValue  string `json:"field_value"`
	Operator    string `json:"operator"`
	Expected    string `json:"expected_value"`
	Matched     bool   `json:"result"`
	Explanation string `json:"explanation"`
}

// subject caches the derived values of an item shared by all conditions.
type subject struct {
	item        feed.Item
	text        string
	description string
	host        string
}

func newSubject(item feed.Item) *subject {
	s := &subject{
		item:        item,
		text:        feed.StripTags(item.Content),
		description: feed.StripTags(item.Description),
	}
	if u, err := url.Parse(item.Link); err == nil {
		s.host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return s
}

func (s *subject) field(f TextField) string {
	switch f {
	case FieldTitle:
		return s.item.Title
	case FieldContent:
		return s.text
	case FieldAuthor:
		return s.item.Author
	case FieldSource:
		return s.item.SourceSite
	case FieldDescription:
		return s.description
	case FieldLink:
		return s.item.Link
	}
	return ""
}

// matches evaluates every condition with short-circuit AND. A rule with no
// conditions matches every item.
func matches(conditions []Condition, s *subject) bool {
	for _, c := range conditions {
		if !evaluate(c, s).Matched {
			return false
		}
	}
	return true
}

func evaluate(c Condition, s *subject) ConditionResult {
	var r ConditionResult

	switch c := c.(type) {
	case TextCondition:
		value := s.field(c.Field)
		r = ConditionResult{
			Type:       string(c.Field) + "_condition",
			Field:      string(c.Field),
			FieldValue: value,
			Operator:   string(c.Operator),
			Expected:   c.Value,
			Matched:    compareText(value, c),
		}
	case CategoryCondition:
		needle := strings.ToLower(strings.TrimSpace(c.Value))
		found := slices.ContainsFunc(s.item.Categories, func(cat string) bool {
			return strings.ToLower(strings.TrimSpace(cat)) == needle
		})
		r = ConditionResult{
			Type:       "category_condition",
			Field:      "categories",
			FieldValue: strings.Join(s.item.Categories, ", "),
			Operator:   string(c.Operator),
			Expected:   c.Value,
			Matched:    found == (c.Operator == OpContains),
		}
	case LengthCondition:
		length := utf8.RuneCountInString(s.text)
		var ok bool
		switch c.Operator {
		case OpNumEquals:
			ok = length == c.Value
		case OpGreaterThan:
			ok = length > c.Value
		case OpLessThan:
			ok = length < c.Value
		}
		r = ConditionResult{
			Type:       "length_condition",
			Field:      "content_length",
			FieldValue: strconv.Itoa(length),
			Operator:   string(c.Operator),
			Expected:   strconv.Itoa(c.Value),
			Matched:    ok,
		}
	case HasMediaCondition:
		r = ConditionResult{
			Type:       "has_media",
			Field:      "enclosures",
			FieldValue: strconv.Itoa(len(s.item.Enclosures)),
			Operator:   "has_media",
			Expected:   "true",
			Matched:    s.item.HasMedia(),
		}
	case DomainCondition:
		want := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Value)), "www.")
		r = ConditionResult{
			Type:       "source_domain",
			Field:      "domain",
			FieldValue: s.host,
			Operator:   "equals",
			Expected:   c.Value,
			Matched:    s.host != "" && s.host == want,
		}
	default:
		r = ConditionResult{Type: fmt.Sprintf("%T", c)}
	}

	prefix := "DID NOT MATCH"
	if r.Matched {
		prefix = "MATCHED"
	}
	r.Explanation = fmt.Sprintf("%s: '%s' %s '%s'", prefix, r.FieldValue, r.Operator, r.Expected)
	return r
}

func compareText(value string, c TextCondition) bool {
	if c.Operator == OpRegex {
		return c.pattern != nil && c.pattern.MatchString(value)
	}

	v := strings.ToLower(value)
	want := strings.ToLower(c.Value)

	switch c.Operator {
	case OpContains:
		return strings.Contains(v, want)
	case OpNotContains:
		return !strings.Contains(v, want)
	case OpEquals:
		return v == want
	case OpNotEquals:
		return v != want
	case OpStartsWith:
		return strings.HasPrefix(v, want)
	case OpEndsWith:
		return strings.HasSuffix(v, want)
	}
	return false
}
