package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/lysyi3m/rss-planner/app/database"
)

// ContentPayload is the content handed to a workflow. ItemID is zero for
// test dispatches that have no backing content record.
type ContentPayload struct {
	ItemID    int64
	Title     string
	Content   string
	SourceURL string
	Metadata  map[string]any
}

type requestPayload struct {
	ExecutionID    string                  `json:"execution_id"`
	WebhookID      int64                   `json:"webhook_id"`
	CallbackURL    string                  `json:"callback_url"`
	AuthToken      string                  `json:"auth_token"`
	Content        string                  `json:"content"`
	Title          string                  `json:"title"`
	SourceURL      string                  `json:"source_url"`
	Metadata       map[string]any          `json:"metadata"`
	ProcessingType database.ProcessingType `json:"processing_type"`
	Timestamp      string                  `json:"timestamp"`
}

type DispatchResult struct {
	ExecutionID string         `json:"execution_id"`
	WebhookID   int64          `json:"webhook_id"`
	StatusCode  int            `json:"status_code"`
	Response    map[string]any `json:"response,omitempty"`
}

// CallbackPayload is the body a workflow posts back when it finishes.
type CallbackPayload struct {
	ExecutionID      string            `json:"execution_id"`
	Status           string            `json:"status,omitempty"`
	Error            json.RawMessage   `json:"error,omitempty"`
	ProcessingTimeMs json.Number       `json:"processing_time_ms,omitempty"`
	ProcessedContent *ProcessedContent `json:"processed_content,omitempty"`
}

// ErrorMessage reports whether the workflow sent an error and its text.
// Non-string errors are kept as their JSON encoding.
func (p CallbackPayload) ErrorMessage() (string, bool) {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var message string
	if json.Unmarshal(raw, &message) == nil {
		return message, true
	}
	return string(raw), true
}

// ProcessingTime returns processing_time_ms truncated to whole
// milliseconds. Missing or negative values yield zero.
func (p CallbackPayload) ProcessingTime() int64 {
	if p.ProcessingTimeMs == "" {
		return 0
	}
	if ms, err := p.ProcessingTimeMs.Int64(); err == nil {
		return max(ms, 0)
	}
	f, err := strconv.ParseFloat(p.ProcessingTimeMs.String(), 64)
	if err != nil || math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

type ProcessedContent struct {
	Title      *string  `json:"title,omitempty"`
	Content    *string  `json:"content,omitempty"`
	Excerpt    *string  `json:"excerpt,omitempty"`
	SEO        *SEO     `json:"seo,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type SEO struct {
	MetaDescription string `json:"meta_description,omitempty"`
	FocusKeywords   string `json:"focus_keywords,omitempty"`
}

type CallbackResult struct {
	ExecutionID string                   `json:"execution_id"`
	Status      database.ExecutionStatus `json:"status"`
	Duplicate   bool                     `json:"duplicate,omitempty"`
	PostID      int64                    `json:"post_id,omitempty"`
}
