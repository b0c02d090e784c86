package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/metrics"
)

// FeedStateStore is the subset of the feed store the poller updates.
type FeedStateStore interface {
	TouchLastFetch(ctx context.Context, id int64, at time.Time) error
	RecordFetchError(ctx context.Context, id int64, message string) (int, database.FeedStatus, error)
	RecordFetchSuccess(ctx context.Context, id int64, etag, lastModified string) error
}

type PollResult struct {
	Kind     FetchKind
	Metadata *Metadata
	Items    []Item
	Err      error // fetch or parse failure recorded on the feed
}

type Poller struct {
	store    FeedStateStore
	fetcher  *Fetcher
	parser   *Parser
	activity activity.Recorder
	metrics  *metrics.Metrics
}

func NewPoller(store FeedStateStore, fetcher *Fetcher, parser *Parser, recorder activity.Recorder, m *metrics.Metrics) *Poller {
	return &Poller{
		store:    store,
		fetcher:  fetcher,
		parser:   parser,
		activity: recorder,
		metrics:  m,
	}
}

// Poll fetches and parses one feed and keeps its fetch state current.
// last_fetch is always touched first. A returned error means the feed state
// could not be persisted or ctx was cancelled; feed-local failures are
// reported in PollResult.Err.
func (p *Poller) Poll(ctx context.Context, feed *database.Feed) (*PollResult, error) {
	start := time.Now()
	if err := p.store.TouchLastFetch(ctx, feed.ID, start); err != nil {
		return nil, fmt.Errorf("failed to touch last fetch: %w", err)
	}

	outcome := p.fetcher.Fetch(ctx, feed)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.metrics.FeedFetched(string(outcome.Kind), time.Since(start).Seconds())

	switch outcome.Kind {
	case FetchNotModified:
		activity.Emit(ctx, p.activity, database.LogInfo, "feed_fetch", "Feed not modified", map[string]any{
			"feed_id": feed.ID,
		})
		return &PollResult{Kind: FetchNotModified}, nil
	case FetchFailure:
		return p.fail(ctx, feed, outcome.Err)
	}

	metadata, items, err := p.parser.Run(outcome.Body, feed)
	if err != nil {
		return p.fail(ctx, feed, err)
	}

	etag, lastModified := outcome.ETag, outcome.LastModified
	if etag == "" && lastModified == "" {
		etag, lastModified = feed.ETag, feed.LastModified
	}
	if err := p.store.RecordFetchSuccess(ctx, feed.ID, etag, lastModified); err != nil {
		return nil, fmt.Errorf("failed to record fetch success: %w", err)
	}

	return &PollResult{Kind: FetchSuccess, Metadata: metadata, Items: items}, nil
}

func (p *Poller) fail(ctx context.Context, feed *database.Feed, cause error) (*PollResult, error) {
	count, status, err := p.store.RecordFetchError(ctx, feed.ID, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("failed to record fetch error: %w", err)
	}

	data := map[string]any{
		"feed_id":     feed.ID,
		"url":         feed.URL,
		"error":       cause.Error(),
		"error_count": count,
	}
	var parseErr *ParseError
	if errors.As(cause, &parseErr) {
		data["reason"] = string(parseErr.Reason)
	}
	activity.Emit(ctx, p.activity, database.LogError, "feed_fetch", "Feed fetch failed", data)

	if status == database.FeedStatusError && count == database.MaxFeedErrors {
		p.metrics.FeedDeactivated()
		activity.Emit(ctx, p.activity, database.LogWarning, "feed_fetch", "Feed deactivated after repeated errors", map[string]any{
			"feed_id":     feed.ID,
			"error_count": count,
		})
	}

	return &PollResult{Kind: FetchFailure, Err: cause}, nil
}
