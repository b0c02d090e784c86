package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ FeedRepository = (*feedRepository)(nil)

const feedColumns = `id, name, url, description, source_site, language, polling_interval,
	default_category, default_author, default_tags, attribution_template, license_note,
	settings, status, last_fetch, etag, last_modified, error_count, error_message,
	created_at, updated_at`

type feedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

func (r *feedRepository) CreateFeed(ctx context.Context, feed *Feed) (int64, error) {
	now := Now()
	feed.Language = cmp.Or(feed.Language, "en")
	feed.PollingInterval = cmp.Or(feed.PollingInterval, 3600)
	feed.Status = cmp.Or(feed.Status, FeedStatusActive)
	feed.CreatedAt, feed.UpdatedAt = now, now

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO feeds (name, url, description, source_site, language, polling_interval,
			default_category, default_author, default_tags, attribution_template, license_note,
			settings, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		feed.Name, feed.URL, feed.Description, feed.SourceSite, feed.Language, feed.PollingInterval,
		feed.DefaultCategory, feed.DefaultAuthor, feed.DefaultTags, feed.AttributionTemplate, feed.LicenseNote,
		feed.Settings, feed.Status, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed: %w", err)
	}

	feed.ID = id
	return id, nil
}

func (r *feedRepository) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	return r.getOne(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
}

func (r *feedRepository) GetFeedByURL(ctx context.Context, url string) (*Feed, error) {
	return r.getOne(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
}

func (r *feedRepository) getOne(ctx context.Context, query string, arg any) (*Feed, error) {
	var feed Feed
	if err := r.db.GetContext(ctx, &feed, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return &feed, nil
}

// ListFeeds returns all feeds, or only those with the given status when it
// is non-empty.
func (r *feedRepository) ListFeeds(ctx context.Context, status FeedStatus) ([]Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY name, id`

	var feeds []Feed
	if err := r.db.SelectContext(ctx, &feeds, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

func (r *feedRepository) UpdateFeed(ctx context.Context, feed *Feed) error {
	feed.UpdatedAt = Now()
	return execRequireRows(ctx, r.db, `
		UPDATE feeds SET name = ?, url = ?, description = ?, source_site = ?, language = ?,
			polling_interval = ?, default_category = ?, default_author = ?, default_tags = ?,
			attribution_template = ?, license_note = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		feed.Name, feed.URL, feed.Description, feed.SourceSite, feed.Language,
		feed.PollingInterval, feed.DefaultCategory, feed.DefaultAuthor, feed.DefaultTags,
		feed.AttributionTemplate, feed.LicenseNote, feed.Settings, feed.UpdatedAt,
		feed.ID)
}

func (r *feedRepository) DeleteFeed(ctx context.Context, id int64) error {
	return execRequireRows(ctx, r.db, `DELETE FROM feeds WHERE id = ?`, id)
}

func (r *feedRepository) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM feeds`); err != nil {
		return 0, fmt.Errorf("failed to count feeds: %w", err)
	}
	return count, nil
}

// SetFeedStatus changes the feed status. Moving a feed back to active clears
// its error state.
func (r *feedRepository) SetFeedStatus(ctx context.Context, id int64, status FeedStatus) error {
	if status == FeedStatusActive {
		return execRequireRows(ctx, r.db, `
			UPDATE feeds SET status = ?, error_count = 0, error_message = '', updated_at = ?
			WHERE id = ?`, status, Now(), id)
	}
	return execRequireRows(ctx, r.db,
		`UPDATE feeds SET status = ?, updated_at = ? WHERE id = ?`, status, Now(), id)
}

// ListDueFeeds selects up to limit active feeds that were never fetched or
// whose polling interval has elapsed, in random order.
func (r *feedRepository) ListDueFeeds(ctx context.Context, now time.Time, limit int) ([]Feed, error) {
	var feeds []Feed
	err := r.db.SelectContext(ctx, &feeds, `
		SELECT `+feedColumns+` FROM feeds
		WHERE status = ? AND (last_fetch IS NULL OR last_fetch + polling_interval <= ?)
		ORDER BY RANDOM()
		LIMIT ?`, FeedStatusActive, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	return feeds, nil
}

func (r *feedRepository) TouchLastFetch(ctx context.Context, id int64, at time.Time) error {
	return execRequireRows(ctx, r.db, `UPDATE feeds SET last_fetch = ? WHERE id = ?`, NewTime(at), id)
}

// RecordFetchError increments the error count and deactivates the feed once
// it reaches MaxFeedErrors, in a single statement. It returns the new count
// and status.
func (r *feedRepository) RecordFetchError(ctx context.Context, id int64, message string) (int, FeedStatus, error) {
	var (
		count  int
		status FeedStatus
	)
	err := r.db.QueryRowxContext(ctx, `
		UPDATE feeds SET
			error_count = error_count + 1,
			error_message = ?,
			status = CASE WHEN error_count + 1 >= ? THEN 'error' ELSE status END,
			updated_at = ?
		WHERE id = ?
		RETURNING error_count, status`,
		message, MaxFeedErrors, Now(), id,
	).Scan(&count, &status)
	if err != nil {
		return 0, "", fmt.Errorf("failed to record fetch error: %w", err)
	}
	return count, status, nil
}

func (r *feedRepository) RecordFetchSuccess(ctx context.Context, id int64, etag, lastModified string) error {
	return execRequireRows(ctx, r.db, `
		UPDATE feeds SET etag = ?, last_modified = ?, error_count = 0, error_message = '', updated_at = ?
		WHERE id = ?`, etag, lastModified, Now(), id)
}
