package database

import (
	"context"
	"time"
)

type FeedRepository interface {
	CreateFeed(ctx context.Context, feed *Feed) (int64, error)
	GetFeed(ctx context.Context, id int64) (*Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)
	ListFeeds(ctx context.Context, status FeedStatus) ([]Feed, error)
	UpdateFeed(ctx context.Context, feed *Feed) error
	DeleteFeed(ctx context.Context, id int64) error
	GetFeedCount(ctx context.Context) (int, error)

	SetFeedStatus(ctx context.Context, id int64, status FeedStatus) error
	ListDueFeeds(ctx context.Context, now time.Time, limit int) ([]Feed, error)
	TouchLastFetch(ctx context.Context, id int64, at time.Time) error
	RecordFetchError(ctx context.Context, id int64, message string) (int, FeedStatus, error)
	RecordFetchSuccess(ctx context.Context, id int64, etag, lastModified string) error
}

type RuleRepository interface {
	CreateRule(ctx context.Context, rule *Rule) (int64, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
	GetRuleByName(ctx context.Context, name string) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id int64) error
	ToggleRule(ctx context.Context, id int64) (bool, error)

	ListApplicableRules(ctx context.Context, feedID int64) ([]Rule, error)
	IncrementRuleCounters(ctx context.Context, id int64, succeeded bool) error
}

type WebhookRepository interface {
	CreateWebhook(ctx context.Context, webhook *Webhook) (int64, error)
	GetWebhook(ctx context.Context, id int64) (*Webhook, error)
	GetWebhookByName(ctx context.Context, name string) (*Webhook, error)
	GetActiveWebhook(ctx context.Context, id int64) (*Webhook, error)
	ListWebhooks(ctx context.Context, activeOnly bool) ([]Webhook, error)
	UpdateWebhook(ctx context.Context, webhook *Webhook) error
	DeleteWebhook(ctx context.Context, id int64) error

	ListActiveTokens(ctx context.Context) ([]WebhookToken, error)
	IncrementWebhookSuccess(ctx context.Context, id int64) error
	IncrementWebhookError(ctx context.Context, id int64) error
	GetWebhookStats(ctx context.Context, id int64) (*WebhookStats, error)
}

type WebhookToken struct {
	ID        int64  `db:"id"`
	AuthToken string `db:"auth_token"`
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *Execution) (int64, error)
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)

	MarkExecutionRunning(ctx context.Context, executionID string, responsePayload string) (bool, error)
	MarkExecutionFailed(ctx context.Context, executionID string, message string) (bool, error)
	CompleteExecution(ctx context.Context, executionID string, result ExecutionResult) (bool, error)
}

type ExecutionFilter struct {
	Status    ExecutionStatus
	WebhookID int64
	ItemID    int64
	Limit     int
}

// ContentRepository is the content store contract used by ingestion and
// callback processing.
type ContentRepository interface {
	CreateContentRecord(ctx context.Context, record *ContentRecord) (int64, error)
	UpdateContentRecord(ctx context.Context, id int64, update ContentUpdate) error
	GetContentRecord(ctx context.Context, id int64) (*ContentRecord, error)
	ContentRecordExistsByGUID(ctx context.Context, guid string) (bool, error)
	ContentRecordExistsByURL(ctx context.Context, url string) (bool, error)
}

// HashLookup is implemented by content stores that can match items on
// their content hash.
type HashLookup interface {
	ContentRecordExistsByHash(ctx context.Context, hash string) (bool, error)
}

type LogRepository interface {
	InsertLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}

type LogFilter struct {
	Level   LogLevel
	Context string
	Limit   int
}
