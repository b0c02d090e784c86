package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/rss-planner/app/database"
)

type ProcessFeedTask struct {
	Task
	Feed      database.Feed
	processor *FeedProcessor
}

func NewProcessFeedTask(feed database.Feed, processor *FeedProcessor) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:      NewFeedTask(TaskTypeProcessFeed, RefOf(feed)),
		Feed:      feed,
		processor: processor,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	report, err := t.processor.Process(ctx, &t.Feed)
	if err != nil {
		return err
	}

	slog.Info("Task completed", append(t.LogAttrs(),
		"duration", t.Elapsed(),
		"outcome", report.Outcome,
		"total", report.Total,
		"duplicates", report.Duplicates,
		"new", report.New,
		"matched", report.Matched)...)

	return nil
}
