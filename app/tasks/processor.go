package tasks

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/metrics"
	"github.com/lysyi3m/rss-planner/app/rules"
)

const excerptLength = 300

type Poller interface {
	Poll(ctx context.Context, feed *database.Feed) (*feed.PollResult, error)
}

type RuleEngine interface {
	Match(ctx context.Context, item feed.Item) (*rules.Rule, error)
	Execute(ctx context.Context, rule *rules.Rule, item feed.Item, source *database.Feed, recordID int64) *rules.ExecutionReport
}

type Extractor interface {
	Extract(ctx context.Context, link string) (string, error)
}

type ContentCreator interface {
	CreateContentRecord(ctx context.Context, record *database.ContentRecord) (int64, error)
}

// FeedReport summarizes one processing run of a feed.
type FeedReport struct {
	FeedID     int64
	FeedName   string
	Outcome    feed.FetchKind
	Total      int
	New        int
	Duplicates int
	Matched    int
	Err        error
	Duration   time.Duration
}

type FeedProcessor struct {
	poller    Poller
	dedup     *feed.Deduplicator
	content   ContentCreator
	engine    RuleEngine
	extractor Extractor
	maxItems  int
	recorder  activity.Recorder
	metrics   *metrics.Metrics
}

func NewFeedProcessor(
	poller Poller,
	dedup *feed.Deduplicator,
	content ContentCreator,
	engine RuleEngine,
	extractor Extractor,
	maxItems int,
	recorder activity.Recorder,
	m *metrics.Metrics,
) *FeedProcessor {
	return &FeedProcessor{
		poller:    poller,
		dedup:     dedup,
		content:   content,
		engine:    engine,
		extractor: extractor,
		maxItems:  maxItems,
		recorder:  recorder,
		metrics:   m,
	}
}

// Process polls src and turns every new item into a content record before
// handing it to the rule engine. Fetch and parse failures are recorded on
// the feed and reported in FeedReport.Err; a returned error is an
// infrastructure failure worth retrying.
func (p *FeedProcessor) Process(ctx context.Context, src *database.Feed) (*FeedReport, error) {
	start := time.Now()
	report := &FeedReport{FeedID: src.ID, FeedName: src.Name}

	result, err := p.poller.Poll(ctx, src)
	if err != nil {
		return nil, err
	}
	report.Outcome = result.Kind
	if result.Kind != feed.FetchSuccess {
		report.Err = result.Err
		report.Duration = time.Since(start)
		return report, nil
	}

	settings := feed.DecodeSettings(src.Settings)
	items := result.Items
	if limit := cmp.Or(settings.MaxItems, p.maxItems); limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	report.Total = len(items)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		duplicate, err := p.dedup.IsDuplicate(ctx, item)
		if err != nil {
			return nil, err
		}
		if duplicate {
			report.Duplicates++
			p.metrics.ItemProcessed("duplicate")
			continue
		}

		if settings.ExtractContent && p.extractor != nil && item.Link != "" {
			item.Content = p.extract(ctx, src, item)
		}

		record := newContentRecord(src, item)
		recordID, err := p.content.CreateContentRecord(ctx, record)
		if err != nil {
			return nil, err
		}
		item.Categories = record.Categories
		report.New++
		p.metrics.ItemProcessed("new")

		rule, err := p.engine.Match(ctx, item)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		report.Matched++
		p.engine.Execute(ctx, rule, item, src, recordID)
	}

	report.Duration = time.Since(start)
	activity.Emit(ctx, p.recorder, database.LogInfo, "feed_fetch", fmt.Sprintf("Processed feed: %s", src.Name), map[string]any{
		"feed_id":    src.ID,
		"total":      report.Total,
		"new":        report.New,
		"duplicates": report.Duplicates,
		"matched":    report.Matched,
		"duration":   report.Duration.String(),
	})
	return report, nil
}

// ProcessDue processes up to limit due feeds one after another. It is the
// synchronous counterpart of the scheduler used by one-shot runs.
func (p *FeedProcessor) ProcessDue(ctx context.Context, feeds DueFeedSource, limit int) ([]FeedReport, error) {
	due, err := feeds.ListDueFeeds(ctx, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}

	reports := make([]FeedReport, 0, len(due))
	for i := range due {
		report, err := p.Process(ctx, &due[i])
		if err != nil {
			return reports, fmt.Errorf("feed %q: %w", due[i].Name, err)
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// extract returns the readable article body, or the feed content when the
// page cannot be extracted.
func (p *FeedProcessor) extract(ctx context.Context, src *database.Feed, item feed.Item) string {
	content, err := p.extractor.Extract(ctx, item.Link)
	if err != nil || strings.TrimSpace(content) == "" {
		activity.Emit(ctx, p.recorder, database.LogWarning, "feed_fetch", "Content extraction failed", map[string]any{
			"feed_id": src.ID,
			"url":     item.Link,
			"error":   fmt.Sprint(err),
		})
		return item.Content
	}
	return content
}

func newContentRecord(src *database.Feed, item feed.Item) *database.ContentRecord {
	categories := item.Categories
	if src.DefaultCategory != "" {
		categories = lo.Uniq(append(categories[:len(categories):len(categories)], src.DefaultCategory))
	}
	tags := lo.Compact(lo.Map(strings.Split(src.DefaultTags, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))

	meta := database.JSONMap{"feed_name": src.Name}
	if item.HasMedia() {
		meta["enclosures"] = item.Enclosures
	}

	return &database.ContentRecord{
		Kind:             database.ContentKindItem,
		FeedID:           &src.ID,
		Title:            item.Title,
		Content:          item.Content,
		Excerpt:          feed.Excerpt(cmp.Or(item.Description, item.Content), excerptLength),
		Visibility:       database.VisibilityPrivate,
		ProcessingStatus: database.ProcessingPending,
		SourceURL:        item.Link,
		SourceGUID:       item.GUID,
		CanonicalURL:     item.Link,
		SourceLicense:    src.LicenseNote,
		SourceSite:       item.SourceSite,
		Author:           cmp.Or(item.Author, src.DefaultAuthor),
		Categories:       categories,
		Tags:             tags,
		ContentHash:      item.ContentHash,
		Meta:             meta,
		PublishedAt:      database.NewTime(item.PublishedAt),
	}
}
