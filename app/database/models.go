package database

type FeedStatus string

const (
	FeedStatusActive   FeedStatus = "active"
	FeedStatusInactive FeedStatus = "inactive"
	FeedStatusError    FeedStatus = "error"
)

// MaxFeedErrors is the consecutive failure count at which a feed is deactivated.
const MaxFeedErrors = 5

type Feed struct {
	ID                  int64      `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	URL                 string     `db:"url" json:"url"`
	Description         string     `db:"description" json:"description"`
	SourceSite          string     `db:"source_site" json:"source_site"`
	Language            string     `db:"language" json:"language"`
	PollingInterval     int        `db:"polling_interval" json:"polling_interval"` // seconds
	DefaultCategory     string     `db:"default_category" json:"default_category"`
	DefaultAuthor       string     `db:"default_author" json:"default_author"`
	DefaultTags         string     `db:"default_tags" json:"default_tags"`
	AttributionTemplate string     `db:"attribution_template" json:"attribution_template"`
	LicenseNote         string     `db:"license_note" json:"license_note"`
	Settings            JSONMap    `db:"settings" json:"settings"`
	Status              FeedStatus `db:"status" json:"status"`
	LastFetch           Time       `db:"last_fetch" json:"last_fetch"`
	ETag                string     `db:"etag" json:"etag"`
	LastModified        string     `db:"last_modified" json:"last_modified"`
	ErrorCount          int        `db:"error_count" json:"error_count"`
	ErrorMessage        string     `db:"error_message" json:"error_message"`
	CreatedAt           Time       `db:"created_at" json:"created_at"`
	UpdatedAt           Time       `db:"updated_at" json:"updated_at"`
}

type Rule struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	FeedID         *int64 `db:"feed_id" json:"feed_id"`
	Priority       int    `db:"priority" json:"priority"`
	Conditions     string `db:"conditions" json:"conditions"`
	Actions        string `db:"actions" json:"actions"`
	WebhookID      *int64 `db:"webhook_id" json:"webhook_id"`
	Active         bool   `db:"active" json:"active"`
	ExecutionCount int    `db:"execution_count" json:"execution_count"`
	SuccessCount   int    `db:"success_count" json:"success_count"`
	CreatedAt      Time   `db:"created_at" json:"created_at"`
	UpdatedAt      Time   `db:"updated_at" json:"updated_at"`
}

type ProcessingType string

const (
	ProcessingContentRewrite ProcessingType = "content_rewrite"
	ProcessingSEOOptimize    ProcessingType = "seo_optimize"
	ProcessingTranslate      ProcessingType = "translate"
	ProcessingCustom         ProcessingType = "custom"
)

func (p ProcessingType) Valid() bool {
	switch p {
	case ProcessingContentRewrite, ProcessingSEOOptimize, ProcessingTranslate, ProcessingCustom:
		return true
	}
	return false
}

type Webhook struct {
	ID                  int64          `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	URL                 string         `db:"url" json:"url"`
	AuthToken           string         `db:"auth_token" json:"auth_token"`
	WorkflowName        string         `db:"workflow_name" json:"workflow_name"`
	WorkflowDescription string         `db:"workflow_description" json:"workflow_description"`
	ProcessingType      ProcessingType `db:"processing_type" json:"processing_type"`
	Active              bool           `db:"active" json:"active"`
	TestMode            bool           `db:"test_mode" json:"test_mode"`
	TimeoutSeconds      int            `db:"timeout_seconds" json:"timeout_seconds"`
	RetryAttempts       int            `db:"retry_attempts" json:"retry_attempts"`
	SuccessCount        int            `db:"success_count" json:"success_count"`
	ErrorCount          int            `db:"error_count" json:"error_count"`
	LastUsed            Time           `db:"last_used" json:"last_used"`
	CreatedAt           Time           `db:"created_at" json:"created_at"`
	UpdatedAt           Time           `db:"updated_at" json:"updated_at"`
}

type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionTimeout ExecutionStatus = "timeout"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionError || s == ExecutionTimeout
}

type Execution struct {
	ID               int64           `db:"id" json:"id"`
	ItemID           int64           `db:"item_id" json:"item_id"`
	WebhookID        int64           `db:"webhook_id" json:"webhook_id"`
	ExecutionID      string          `db:"execution_id" json:"execution_id"`
	Status           ExecutionStatus `db:"status" json:"status"`
	RequestPayload   string          `db:"request_payload" json:"request_payload"`
	ResponsePayload  string          `db:"response_payload" json:"response_payload"`
	ErrorMessage     string          `db:"error_message" json:"error_message"`
	ProcessingTimeMs int64           `db:"processing_time_ms" json:"processing_time_ms"`
	StartedAt        Time            `db:"started_at" json:"started_at"`
	CompletedAt      Time            `db:"completed_at" json:"completed_at"`
}

// ExecutionResult is the terminal outcome reported for an execution.
type ExecutionResult struct {
	Status           ExecutionStatus
	ResponsePayload  string
	ErrorMessage     string
	ProcessingTimeMs int64
}

type WebhookStats struct {
	TotalExecutions   int     `db:"total_executions" json:"total_executions"`
	Successful        int     `db:"successful" json:"successful"`
	Failed            int     `db:"failed" json:"failed"`
	Pending           int     `db:"pending" json:"pending"`
	AvgProcessingTime float64 `db:"avg_processing_time" json:"avg_processing_time_ms"`
	LastExecution     Time    `db:"last_execution" json:"last_execution"`
}

type ContentKind string

const (
	ContentKindItem ContentKind = "item"
	ContentKindPost ContentKind = "post"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityDraft   Visibility = "draft"
)

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingError      ProcessingStatus = "error"
)

// ContentRecord is an ingested item or a post produced from one. Records
// are never published by this service.
type ContentRecord struct {
	ID               int64            `db:"id" json:"id"`
	Kind             ContentKind      `db:"kind" json:"kind"`
	ParentID         *int64           `db:"parent_id" json:"parent_id"`
	FeedID           *int64           `db:"feed_id" json:"feed_id"`
	Title            string           `db:"title" json:"title"`
	Content          string           `db:"content" json:"content"`
	Excerpt          string           `db:"excerpt" json:"excerpt"`
	Visibility       Visibility       `db:"visibility" json:"visibility"`
	ProcessingStatus ProcessingStatus `db:"processing_status" json:"processing_status"`
	SourceURL        string           `db:"source_url" json:"source_url"`
	SourceGUID       string           `db:"source_guid" json:"source_guid"`
	CanonicalURL     string           `db:"canonical_url" json:"canonical_url"`
	SourceLicense    string           `db:"source_license" json:"source_license"`
	SourceSite       string           `db:"source_site" json:"source_site"`
	Author           string           `db:"author" json:"author"`
	Categories       StringList       `db:"categories" json:"categories"`
	Tags             StringList       `db:"tags" json:"tags"`
	ContentHash      string           `db:"content_hash" json:"content_hash"`
	Meta             JSONMap          `db:"meta" json:"meta"`
	PublishedAt      Time             `db:"published_at" json:"published_at"`
	CreatedAt        Time             `db:"created_at" json:"created_at"`
	UpdatedAt        Time             `db:"updated_at" json:"updated_at"`
}

// ContentUpdate lists the fields to change on a content record. Nil fields
// are left untouched; Meta entries are merged into the existing meta.
type ContentUpdate struct {
	Title            *string
	Content          *string
	Excerpt          *string
	ProcessingStatus *ProcessingStatus
	Categories       StringList
	Tags             StringList
	Meta             map[string]any
}

type LogLevel string

const (
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarning  LogLevel = "warning"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

type LogEntry struct {
	ID        int64    `db:"id" json:"id"`
	Level     LogLevel `db:"level" json:"level"`
	Context   string   `db:"context" json:"context"`
	Message   string   `db:"message" json:"message"`
	Data      JSONMap  `db:"data" json:"data"`
	CreatedAt Time     `db:"created_at" json:"created_at"`
}
