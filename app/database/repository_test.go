package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	state, err := MigrateUp(db)
	require.NoError(t, err)
	require.False(t, state.Dirty)

	return db
}

func TestMigrateUp_FreshThenCurrent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	first, err := MigrateUp(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaState{From: 0, To: 1}, first)
	assert.True(t, first.Applied())

	again, err := MigrateUp(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaState{From: 1, To: 1}, again)
	assert.False(t, again.Applied())
}

func createTestFeed(t *testing.T, repo FeedRepository, url string) *Feed {
	t.Helper()

	feed := &Feed{Name: "Feed " + url, URL: url}
	_, err := repo.CreateFeed(context.Background(), feed)
	require.NoError(t, err)
	return feed
}

func TestFeedRepository_CreateAndGet(t *testing.T) {
	repo := NewFeedRepository(newTestDB(t))
	ctx := context.Background()

	feed := &Feed{Name: "Example", URL: "https://example.com/feed.xml", Settings: JSONMap{"max_items": 5}}
	id, err := repo.CreateFeed(ctx, feed)
	require.NoError(t, err)

	got, err := repo.GetFeed(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Example", got.Name)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, 3600, got.PollingInterval)
	assert.Equal(t, FeedStatusActive, got.Status)
	assert.True(t, got.LastFetch.IsZero())
	assert.EqualValues(t, 5, got.Settings["max_items"])

	missing, err := repo.GetFeed(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFeedRepository_ListDueFeeds(t *testing.T) {
	repo := NewFeedRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	never := createTestFeed(t, repo, "https://a.example.com/feed")
	stale := createTestFeed(t, repo, "https://b.example.com/feed")
	fresh := createTestFeed(t, repo, "https://c.example.com/feed")
	inactive := createTestFeed(t, repo, "https://d.example.com/feed")

	require.NoError(t, repo.TouchLastFetch(ctx, stale.ID, now.Add(-2*time.Hour)))
	require.NoError(t, repo.TouchLastFetch(ctx, fresh.ID, now.Add(-10*time.Minute)))
	require.NoError(t, repo.SetFeedStatus(ctx, inactive.ID, FeedStatusInactive))

	due, err := repo.ListDueFeeds(ctx, now, 10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, f := range due {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []int64{never.ID, stale.ID}, ids)

	limited, err := repo.ListDueFeeds(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFeedRepository_RecordFetchError_DeactivatesAtThreshold(t *testing.T) {
	repo := NewFeedRepository(newTestDB(t))
	ctx := context.Background()
	feed := createTestFeed(t, repo, "https://example.com/feed")

	for i := 1; i < MaxFeedErrors; i++ {
		count, status, err := repo.RecordFetchError(ctx, feed.ID, "HTTP 500")
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Equal(t, FeedStatusActive, status)
	}

	count, status, err := repo.RecordFetchError(ctx, feed.ID, "HTTP 500")
	require.NoError(t, err)
	assert.Equal(t, MaxFeedErrors, count)
	assert.Equal(t, FeedStatusError, status)

	due, err := repo.ListDueFeeds(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.SetFeedStatus(ctx, feed.ID, FeedStatusActive))
	got, err := repo.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Equal(t, FeedStatusActive, got.Status)
}

func TestFeedRepository_RecordFetchSuccess_ResetsErrors(t *testing.T) {
	repo := NewFeedRepository(newTestDB(t))
	ctx := context.Background()
	feed := createTestFeed(t, repo, "https://example.com/feed")

	_, _, err := repo.RecordFetchError(ctx, feed.ID, "timeout")
	require.NoError(t, err)
	_, _, err = repo.RecordFetchError(ctx, feed.ID, "timeout")
	require.NoError(t, err)

	require.NoError(t, repo.RecordFetchSuccess(ctx, feed.ID, `"abc"`, "Mon, 03 Jul 2023 10:00:00 GMT"))

	got, err := repo.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, `"abc"`, got.ETag)
	assert.Equal(t, "Mon, 03 Jul 2023 10:00:00 GMT", got.LastModified)
}

func TestRuleRepository_ListApplicableRules_Order(t *testing.T) {
	db := newTestDB(t)
	feeds := NewFeedRepository(db)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	feed := createTestFeed(t, feeds, "https://example.com/feed")
	other := createTestFeed(t, feeds, "https://other.example.com/feed")

	mustCreate := func(rule *Rule) int64 {
		id, err := repo.CreateRule(ctx, rule)
		require.NoError(t, err)
		return id
	}

	low := mustCreate(&Rule{Name: "low", FeedID: &feed.ID, Priority: 20, Active: true})
	global := mustCreate(&Rule{Name: "global", Priority: 5, Active: true})
	high := mustCreate(&Rule{Name: "high", FeedID: &feed.ID, Priority: 5, Active: true})
	mustCreate(&Rule{Name: "inactive", FeedID: &feed.ID, Priority: 1, Active: false})
	mustCreate(&Rule{Name: "other", FeedID: &other.ID, Priority: 1, Active: true})

	rules, err := repo.ListApplicableRules(ctx, feed.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{global, high, low}, ids)

	require.NoError(t, repo.IncrementRuleCounters(ctx, high, true))
	require.NoError(t, repo.IncrementRuleCounters(ctx, high, false))
	got, err := repo.GetRule(ctx, high)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutionCount)
	assert.Equal(t, 1, got.SuccessCount)

	active, err := repo.ToggleRule(ctx, high)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	webhooks := NewWebhookRepository(db)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	webhook := &Webhook{Name: "n8n", URL: "https://n8n.example.com/hook", AuthToken: "token-1", Active: true}
	_, err := webhooks.CreateWebhook(ctx, webhook)
	require.NoError(t, err)

	_, err = repo.CreateExecution(ctx, &Execution{ItemID: 7, WebhookID: webhook.ID, ExecutionID: "exec-1"})
	require.NoError(t, err)

	ok, err := repo.MarkExecutionRunning(ctx, "exec-1", `{"accepted":true}`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkExecutionFailed(ctx, "exec-1", "late failure")
	require.NoError(t, err)
	assert.False(t, ok, "a running execution is not a dispatch failure")

	ok, err = repo.CompleteExecution(ctx, "exec-1", ExecutionResult{Status: ExecutionSuccess, ProcessingTimeMs: 1200})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompleteExecution(ctx, "exec-1", ExecutionResult{Status: ExecutionError})
	require.NoError(t, err)
	assert.False(t, ok, "terminal executions cannot be claimed twice")

	got, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, got.Status)
	assert.EqualValues(t, 1200, got.ProcessingTimeMs)
	assert.False(t, got.CompletedAt.IsZero())

	_, err = repo.CompleteExecution(ctx, "exec-1", ExecutionResult{Status: ExecutionRunning})
	assert.Error(t, err)

	list, err := repo.ListExecutions(ctx, ExecutionFilter{Status: ExecutionSuccess, WebhookID: webhook.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := webhooks.GetWebhookStats(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalExecutions)
	assert.Equal(t, 1, stats.Successful)
	assert.InDelta(t, 1200, stats.AvgProcessingTime, 0.1)
}

func TestContentStore_DedupAndUpdate(t *testing.T) {
	store := NewContentStore(newTestDB(t))
	ctx := context.Background()

	id, err := store.CreateContentRecord(ctx, &ContentRecord{
		Title:       "Hello",
		SourceURL:   "https://example.com/hello",
		SourceGUID:  "guid-1",
		ContentHash: "hash-1",
		Meta:        JSONMap{"auto_assigned_category": "News"},
	})
	require.NoError(t, err)

	for _, check := range []struct {
		name string
		fn   func(context.Context, string) (bool, error)
		hit  string
	}{
		{"guid", store.ContentRecordExistsByGUID, "guid-1"},
		{"url", store.ContentRecordExistsByURL, "https://example.com/hello"},
		{"hash", store.ContentRecordExistsByHash, "hash-1"},
	} {
		found, err := check.fn(ctx, check.hit)
		require.NoError(t, err, check.name)
		assert.True(t, found, check.name)

		found, err = check.fn(ctx, "")
		require.NoError(t, err, check.name)
		assert.False(t, found, check.name)
	}

	status := ProcessingCompleted
	require.NoError(t, store.UpdateContentRecord(ctx, id, ContentUpdate{
		ProcessingStatus: &status,
		Meta:             map[string]any{"processed_post_id": 42},
	}))

	got, err := store.GetContentRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ProcessingCompleted, got.ProcessingStatus)
	assert.Equal(t, VisibilityPrivate, got.Visibility)
	assert.Equal(t, "News", got.Meta["auto_assigned_category"])
	assert.EqualValues(t, 42, got.Meta["processed_post_id"])

	err = store.UpdateContentRecord(ctx, id+100, ContentUpdate{ProcessingStatus: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogRepository_InsertAndList(t *testing.T) {
	repo := NewLogRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.InsertLog(ctx, &LogEntry{Level: LogInfo, Context: "feed_fetch", Message: "ok"}))
	require.NoError(t, repo.InsertLog(ctx, &LogEntry{Level: LogError, Context: "webhook", Message: "boom", Data: JSONMap{"code": 500}}))

	entries, err := repo.ListLogs(ctx, LogFilter{Level: LogError})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
	assert.EqualValues(t, 500, entries[0].Data["code"])

	all, err := repo.ListLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
