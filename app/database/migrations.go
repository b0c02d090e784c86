package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrDirtySchema means a previous migration stopped halfway and the schema
// needs manual repair before the planner can start.
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaState describes the planner schema around a MigrateUp call.
type SchemaState struct {
	From  uint
	To    uint
	Dirty bool
}

// Applied reports whether MigrateUp moved the schema forward.
func (s SchemaState) Applied() bool {
	return s.To != s.From
}

// MigrateUp brings the feeds, rules, webhooks, executions, content and logs
// tables to the latest embedded version.
func MigrateUp(db *DB) (SchemaState, error) {
	m, err := newMigrator(db)
	if err != nil {
		return SchemaState{}, err
	}

	from, dirty, err := schemaVersion(m)
	if err != nil {
		return SchemaState{}, err
	}
	if dirty {
		return SchemaState{From: from, To: from, Dirty: true}, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaState{From: from}, fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	to, dirty, err := schemaVersion(m)
	if err != nil {
		return SchemaState{From: from}, err
	}
	return SchemaState{From: from, To: to, Dirty: dirty}, nil
}

func newMigrator(db *DB) (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(db.DB.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// schemaVersion treats a database that has never been migrated as version 0.
func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}
