// Package activity records operational events both to slog and to the
// persistent logs table.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-planner/app/database"
)

var levelRank = map[database.LogLevel]int{
	database.LogDebug:    0,
	database.LogInfo:     1,
	database.LogWarning:  2,
	database.LogError:    3,
	database.LogCritical: 4,
}

var slogLevel = map[database.LogLevel]slog.Level{
	database.LogDebug:    slog.LevelDebug,
	database.LogInfo:     slog.LevelInfo,
	database.LogWarning:  slog.LevelWarn,
	database.LogError:    slog.LevelError,
	database.LogCritical: slog.LevelError + 4,
}

// Recorder is implemented by *Log. Components accept it so tests can pass
// nil or a fake.
type Recorder interface {
	Record(ctx context.Context, level database.LogLevel, scope, message string, data map[string]any)
}

// Log writes entries at or above its threshold to the repository. A nil *Log
// only writes to slog.
type Log struct {
	repo      database.LogRepository
	threshold int
}

func New(repo database.LogRepository, threshold database.LogLevel) *Log {
	rank, ok := levelRank[threshold]
	if !ok {
		rank = levelRank[database.LogInfo]
	}
	return &Log{repo: repo, threshold: rank}
}

func (l *Log) Record(ctx context.Context, level database.LogLevel, scope, message string, data map[string]any) {
	attrs := make([]any, 0, 2+2*len(data))
	attrs = append(attrs, "context", scope)
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	slog.Log(ctx, slogLevel[level], message, attrs...)

	if l == nil || l.repo == nil || levelRank[level] < l.threshold {
		return
	}

	// Entries are written even when the caller's context is already cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	entry := &database.LogEntry{Level: level, Context: scope, Message: message, Data: data}
	if err := l.repo.InsertLog(writeCtx, entry); err != nil {
		slog.Warn("Failed to persist activity log entry", "context", scope, "error", err)
	}
}

// Emit records through r when it is non-nil and falls back to slog otherwise.
func Emit(ctx context.Context, r Recorder, level database.LogLevel, scope, message string, data map[string]any) {
	if r == nil {
		(*Log)(nil).Record(ctx, level, scope, message, data)
		return
	}
	r.Record(ctx, level, scope, message, data)
}
