package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion reads PRAGMA user_version.
func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn *sql.DB, version int) error {
	// modernc/sqlite rejects user_version inside a transaction.
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", version, err)
	}
	return nil
}

// hasUnversionedSchema reports whether an items table exists in a file
// whose user_version was never set.
func hasUnversionedSchema(ctx context.Context, conn *sql.DB) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'items'",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return n > 0, nil
}

// pending returns the migrations newer than version, in order.
func pending(version int) []Migration {
	var out []Migration
	for _, m := range migrations {
		if m.Version > version {
			out = append(out, m)
		}
	}
	return out
}

// migrate brings the schema up to latestVersion.
func migrate(ctx context.Context, conn *sql.DB) error {
	version, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}

	if version == 0 {
		unversioned, err := hasUnversionedSchema(ctx, conn)
		if err != nil {
			return err
		}
		if unversioned {
			slog.Info("unversioned items schema found, treating as version 1")
			if err := setSchemaVersion(ctx, conn, 1); err != nil {
				return err
			}
			version = 1
		}
	}

	for _, m := range pending(version) {
		slog.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := apply(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration in a transaction, then records its version. The
// DDL is idempotent, so a crash between the two only repeats the step.
func apply(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	return setSchemaVersion(ctx, conn, m.Version)
}
