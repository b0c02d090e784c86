package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-planner/app/database"
)

type TaskType string

const (
	TaskTypeProcessFeed TaskType = "process_feed"
	TaskTypeSyncSeed    TaskType = "sync_seed"
)

const (
	DefaultMaxRetries = 3
	maxRetryDelay     = 30 * time.Second
)

// FeedRef names the feed a task works on. The zero value is a task that is
// not bound to any feed.
type FeedRef struct {
	ID   int64
	Name string
}

func RefOf(feed database.Feed) FeedRef {
	return FeedRef{ID: feed.ID, Name: feed.Name}
}

func (r FeedRef) Bound() bool {
	return r.ID != 0
}

func (r FeedRef) String() string {
	if !r.Bound() {
		return "-"
	}
	return fmt.Sprintf("%s (#%d)", r.Name, r.ID)
}

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	Target() FeedRef
	Retries() int
	// NextRetry consumes one retry and returns the delay before it, or false
	// once the budget is spent.
	NextRetry() (time.Duration, bool)
	Start()
	Elapsed() time.Duration
	LogAttrs() []any
}

// Task carries the scheduling state shared by every task type.
type Task struct {
	ID         string
	Type       TaskType
	MaxRetries int

	target    FeedRef
	retries   int
	startedAt time.Time
}

// NewTask creates a task that is not bound to a feed.
func NewTask(taskType TaskType) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		MaxRetries: DefaultMaxRetries,
	}
}

// NewFeedTask creates a task bound to feed. The scheduler keeps at most one
// bound task per feed in flight.
func NewFeedTask(taskType TaskType, feed FeedRef) Task {
	t := NewTask(taskType)
	t.target = feed
	return t
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) Target() FeedRef {
	return t.target
}

func (t *Task) Retries() int {
	return t.retries
}

// NextRetry backs off exponentially from one second, capped at 30s.
func (t *Task) NextRetry() (time.Duration, bool) {
	if t.retries >= t.MaxRetries {
		return 0, false
	}
	t.retries++
	return min(time.Second<<(t.retries-1), maxRetryDelay), true
}

func (t *Task) Start() {
	t.startedAt = time.Now()
}

func (t *Task) Elapsed() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	return time.Since(t.startedAt)
}

func (t *Task) LogAttrs() []any {
	attrs := []any{"task_id", t.ID, "type", string(t.Type)}
	if t.target.Bound() {
		attrs = append(attrs, "feed_id", t.target.ID, "feed", t.target.Name)
	}
	return attrs
}
