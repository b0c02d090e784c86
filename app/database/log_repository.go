package database

import (
	"cmp"
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

var _ LogRepository = (*logRepository)(nil)

type logRepository struct {
	db *DB
}

func NewLogRepository(db *DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) InsertLog(ctx context.Context, entry *LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = Now()
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("logs").
		Cols("level", "context", "message", "data", "created_at").
		Values(entry.Level, entry.Context, entry.Message, entry.Data, entry.CreatedAt)
	query, args := ib.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (r *logRepository) ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "level", "context", "message", "data", "created_at").From("logs")
	if filter.Level != "" {
		sb.Where(sb.Equal("level", filter.Level))
	}
	if filter.Context != "" {
		sb.Where(sb.Equal("context", filter.Context))
	}
	sb.OrderBy("id").Desc()
	sb.Limit(cmp.Or(filter.Limit, 100))

	query, args := sb.Build()

	var entries []LogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return entries, nil
}
