package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

type migration struct {
	version int64
	file    string
}

// migrations lists the embedded up migrations in version order.
func migrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// "000001" from "000001_membership.up.sql"
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			slog.Warn("skipping migration file with invalid version format", "file", name)
			continue
		}
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// EnsureSchema applies all pending embedded migrations.
// It creates a schema_migrations table to track applied versions.
func EnsureSchema(ctx context.Context, db *DB) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	pending, err := migrations(migrationFS)
	if err != nil {
		return err
	}

	for _, m := range pending {
		var applied bool
		err = db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration version %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		slog.Info("applying migration", "file", m.file, "version", m.version)
		content, err := fs.ReadFile(migrationFS, "migrations/"+m.file)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", m.file, err)
		}

		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("execute migration %s: %w", m.file, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("record migration %s: %w", m.file, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.file, err)
		}
		slog.Info("migration applied successfully", "version", m.version)
	}

	return nil
}
