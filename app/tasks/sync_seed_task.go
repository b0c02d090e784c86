package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-planner/app/seed"
)

// SyncSeedTask loads the seed directory and upserts it into the database.
type SyncSeedTask struct {
	Task
	loader *seed.Loader
	syncer *seed.Syncer
}

func NewSyncSeedTask(loader *seed.Loader, syncer *seed.Syncer) *SyncSeedTask {
	return &SyncSeedTask{
		Task:   NewTask(TaskTypeSyncSeed),
		loader: loader,
		syncer: syncer,
	}
}

func (t *SyncSeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s, err := t.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load seed: %w", err)
	}

	report, err := t.syncer.Sync(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to sync seed to database: %w", err)
	}

	slog.Info("Task completed", append(t.LogAttrs(),
		"duration", t.Elapsed(),
		"feeds_created", report.FeedsCreated,
		"feeds_updated", report.FeedsUpdated,
		"webhooks_created", report.WebhooksCreated,
		"webhooks_updated", report.WebhooksUpdated,
		"rules_created", report.RulesCreated,
		"rules_updated", report.RulesUpdated)...)

	return nil
}
