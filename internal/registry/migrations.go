package registry

import (
	"context"
	"fmt"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Migrator applies the registry's fixed, inline schema. There is no
// embedded-file loader here: the registry's schema is small and fixed, so
// its migrations are defined in code rather than loaded from a directory.
type Migrator struct {
	pool       *Pool
	migrations []Migration
}

// MigrationRecord represents a migration record in the database.
type MigrationRecord struct {
	Version int
	Name    string
}

var schemaMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_shard_members",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS shard_members (
				shard_url  TEXT PRIMARY KEY,
				added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
	{
		Version: 2,
		Name:    "create_shard_health_events",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS shard_health_events (
				id         UUID PRIMARY KEY,
				shard_url  TEXT NOT NULL,
				healthy    BOOLEAN NOT NULL,
				observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
}

// NewMigrator builds a Migrator over the registry's built-in schema.
func NewMigrator(pool *Pool) *Migrator {
	return &Migrator{pool: pool, migrations: schemaMigrations}
}

// EnsureMigrationsTable creates the migrations tracking table if absent.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS registry_schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

// AppliedMigrations returns the list of applied migration versions.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, name FROM registry_schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Up applies every migration not yet recorded as applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("registry: failed to ensure migrations table: %w", err)
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, r := range applied {
		appliedSet[r.Version] = true
	}

	count := 0
	for _, mig := range m.migrations {
		if appliedSet[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("registry: failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("failed to execute up sql: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO registry_schema_migrations (version, name) VALUES ($1, $2)`,
		mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit(ctx)
}
