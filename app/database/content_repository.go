package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"

	"github.com/huandu/go-sqlbuilder"
)

var (
	_ ContentRepository = (*ContentStore)(nil)
	_ HashLookup        = (*ContentStore)(nil)
)

const contentColumns = `id, kind, parent_id, feed_id, title, content, excerpt, visibility, processing_status,
	source_url, source_guid, canonical_url, source_license, source_site, author, categories, tags,
	content_hash, meta, published_at, created_at, updated_at`

// ContentStore is the SQLite-backed content store.
type ContentStore struct {
	db *DB
}

func NewContentStore(db *DB) *ContentStore {
	return &ContentStore{db: db}
}

func (r *ContentStore) CreateContentRecord(ctx context.Context, record *ContentRecord) (int64, error) {
	now := Now()
	record.Kind = cmp.Or(record.Kind, ContentKindItem)
	record.Visibility = cmp.Or(record.Visibility, VisibilityPrivate)
	record.ProcessingStatus = cmp.Or(record.ProcessingStatus, ProcessingPending)
	record.CreatedAt, record.UpdatedAt = now, now

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO content_records (kind, parent_id, feed_id, title, content, excerpt, visibility,
			processing_status, source_url, source_guid, canonical_url, source_license, source_site,
			author, categories, tags, content_hash, meta, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		record.Kind, record.ParentID, record.FeedID, record.Title, record.Content, record.Excerpt,
		record.Visibility, record.ProcessingStatus, record.SourceURL, record.SourceGUID,
		record.CanonicalURL, record.SourceLicense, record.SourceSite, record.Author,
		record.Categories, record.Tags, record.ContentHash, record.Meta, record.PublishedAt, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create content record: %w", err)
	}

	record.ID = id
	return id, nil
}

func (r *ContentStore) GetContentRecord(ctx context.Context, id int64) (*ContentRecord, error) {
	var record ContentRecord
	if err := r.db.GetContext(ctx, &record, `SELECT `+contentColumns+` FROM content_records WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}
	return &record, nil
}

// UpdateContentRecord applies the non-nil fields of update. Meta keys are
// merged into the stored meta inside one transaction.
func (r *ContentStore) UpdateContentRecord(ctx context.Context, id int64, update ContentUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("content_records")

	assignments := []string{ub.Assign("updated_at", Now())}
	if update.Title != nil {
		assignments = append(assignments, ub.Assign("title", *update.Title))
	}
	if update.Content != nil {
		assignments = append(assignments, ub.Assign("content", *update.Content))
	}
	if update.Excerpt != nil {
		assignments = append(assignments, ub.Assign("excerpt", *update.Excerpt))
	}
	if update.ProcessingStatus != nil {
		assignments = append(assignments, ub.Assign("processing_status", *update.ProcessingStatus))
	}
	if update.Categories != nil {
		assignments = append(assignments, ub.Assign("categories", update.Categories))
	}
	if update.Tags != nil {
		assignments = append(assignments, ub.Assign("tags", update.Tags))
	}
	if len(update.Meta) > 0 {
		var meta JSONMap
		if err := tx.GetContext(ctx, &meta, `SELECT meta FROM content_records WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read content meta: %w", err)
		}
		if meta == nil {
			meta = JSONMap{}
		}
		maps.Copy(meta, update.Meta)
		assignments = append(assignments, ub.Assign("meta", meta))
	}

	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update content record: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (r *ContentStore) ContentRecordExistsByGUID(ctx context.Context, guid string) (bool, error) {
	return r.exists(ctx, "source_guid", guid)
}

func (r *ContentStore) ContentRecordExistsByURL(ctx context.Context, url string) (bool, error) {
	return r.exists(ctx, "source_url", url)
}

func (r *ContentStore) ContentRecordExistsByHash(ctx context.Context, hash string) (bool, error) {
	return r.exists(ctx, "content_hash", hash)
}

func (r *ContentStore) exists(ctx context.Context, column, value string) (bool, error) {
	if value == "" {
		return false, nil
	}

	var found bool
	err := r.db.GetContext(ctx, &found,
		`SELECT EXISTS (SELECT 1 FROM content_records WHERE kind = ? AND `+column+` = ?)`,
		ContentKindItem, value)
	if err != nil {
		return false, fmt.Errorf("failed to check content record by %s: %w", column, err)
	}
	return found, nil
}
