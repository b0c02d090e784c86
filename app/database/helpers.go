package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by mutations that matched no row.
var ErrNotFound = errors.New("record not found")

func execRequireRows(ctx context.Context, db *DB, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// execAffected runs a conditional update and reports whether it matched.
func execAffected(ctx context.Context, db *DB, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("exec failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
