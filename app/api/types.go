package api

import (
	"cmp"
	"context"
	"encoding/json"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/tasks"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

type FeedValidator interface {
	Validate(ctx context.Context, rawURL string) (*feed.ValidationResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, webhookID int64, payload webhook.ContentPayload) (*webhook.DispatchResult, error)
}

type CallbackProcessor interface {
	Authenticate(ctx context.Context, token string) error
	Handle(ctx context.Context, token string, payload webhook.CallbackPayload) (*webhook.CallbackResult, error)
}

var (
	_ FeedValidator     = (*feed.Validator)(nil)
	_ Dispatcher        = (*webhook.Dispatcher)(nil)
	_ CallbackProcessor = (*webhook.CallbackHandler)(nil)
)

type Handler struct {
	feedRepo      database.FeedRepository
	webhookRepo   database.WebhookRepository
	ruleRepo      database.RuleRepository
	executionRepo database.ExecutionRepository
	logRepo       database.LogRepository
	validator     FeedValidator
	dispatcher    Dispatcher
	callbacks     CallbackProcessor
	scheduler     tasks.TaskSchedulerInterface
	recorder      activity.Recorder
	version       string
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Feeds      database.FeedRepository
	Webhooks   database.WebhookRepository
	Rules      database.RuleRepository
	Executions database.ExecutionRepository
	Logs       database.LogRepository
	Validator  FeedValidator
	Dispatcher Dispatcher
	Callbacks  CallbackProcessor
	Scheduler  tasks.TaskSchedulerInterface
	Recorder   activity.Recorder
	Version    string
}

type feedRequest struct {
	Name                string         `json:"name"`
	URL                 string         `json:"url"`
	Description         string         `json:"description"`
	SourceSite          string         `json:"source_site"`
	Language            string         `json:"language"`
	PollingInterval     int            `json:"polling_interval"`
	DefaultCategory     string         `json:"default_category"`
	DefaultAuthor       string         `json:"default_author"`
	DefaultTags         string         `json:"default_tags"`
	AttributionTemplate string         `json:"attribution_template"`
	LicenseNote         string         `json:"license_note"`
	Settings            map[string]any `json:"settings"`
}

func (r feedRequest) apply(f *database.Feed) {
	f.Name = r.Name
	f.URL = r.URL
	f.Description = r.Description
	f.SourceSite = r.SourceSite
	f.Language = cmp.Or(r.Language, f.Language)
	f.PollingInterval = cmp.Or(r.PollingInterval, f.PollingInterval)
	f.DefaultCategory = r.DefaultCategory
	f.DefaultAuthor = r.DefaultAuthor
	f.DefaultTags = r.DefaultTags
	f.AttributionTemplate = r.AttributionTemplate
	f.LicenseNote = r.LicenseNote
	if r.Settings != nil {
		f.Settings = database.JSONMap(r.Settings)
	}
}

type webhookRequest struct {
	Name                string                  `json:"name"`
	URL                 string                  `json:"url"`
	AuthToken           string                  `json:"auth_token"`
	WorkflowName        string                  `json:"workflow_name"`
	WorkflowDescription string                  `json:"workflow_description"`
	ProcessingType      database.ProcessingType `json:"processing_type"`
	TimeoutSeconds      int                     `json:"timeout_seconds"`
	RetryAttempts       int                     `json:"retry_attempts"`
	TestMode            bool                    `json:"test_mode"`
	Active              *bool                   `json:"active"`
}

type ruleRequest struct {
	Name       string          `json:"name"`
	FeedID     *int64          `json:"feed_id"`
	Priority   int             `json:"priority"`
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions"`
	WebhookID  *int64          `json:"webhook_id"`
	Active     *bool           `json:"active"`
}

// definition returns the conditions and actions as stored JSON text.
func (r ruleRequest) definition() (string, string) {
	return rawList(r.Conditions), rawList(r.Actions)
}

func rawList(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "[]"
	}
	return string(raw)
}

type ruleTestRequest struct {
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions"`
	WebhookID  *int64          `json:"webhook_id"`
	Sample     sampleItem      `json:"sample"`
}

type sampleItem struct {
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Author     string           `json:"author"`
	Link       string           `json:"link"`
	Categories []string         `json:"categories"`
	Enclosures []feed.Enclosure `json:"enclosures"`
}

func (s sampleItem) item() feed.Item {
	return feed.Item{
		Title:      s.Title,
		Content:    s.Content,
		Author:     s.Author,
		Link:       s.Link,
		Categories: s.Categories,
		Enclosures: s.Enclosures,
	}
}
