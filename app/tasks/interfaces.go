package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-planner/app/database"
)

// TaskSchedulerInterface is what the HTTP layer needs to queue feed work.
type TaskSchedulerInterface interface {
	EnqueueTask(task TaskInterface) error
	EnqueueFeed(feed database.Feed) error
	EnqueueDue(ctx context.Context) (int, error)
}

// DueFeedSource selects feeds whose polling interval has elapsed.
type DueFeedSource interface {
	ListDueFeeds(ctx context.Context, now time.Time, limit int) ([]database.Feed, error)
}
