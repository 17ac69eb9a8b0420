// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

// Package migration applies the portal schema with golang-migrate during
// startup, before any handler sees traffic.
//
// # Architecture
//
// Migrations are forward-only in production: RunUp applies every pending UP
// step and refuses to proceed when a previous run left the version table
// dirty. Down files exist for development resets, never for automated
// rollback.
package migration

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx5 driver registers "pgx5" scheme for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	// file source reads .sql files from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

/*
RunUp applies all pending UP migrations.

Description: Idempotent; a database already at the newest version is a
success, a dirty version table is a hard failure that needs an operator.

Parameters:
  - dsn: A postgres:// or postgresql:// URL (pgx5:// passes through).
  - migrationsPath: Filesystem path to the migrations directory.
  - logger: Structured logger for migration events.

Returns:
  - error: Initialization, dirty-state, or execution failures
*/
func RunUp(dsn string, migrationsPath string, logger *slog.Logger) error {
	migrator, err := migrate.New("file://"+migrationsPath, pgx5URL(dsn))
	if err != nil {
		return fmt.Errorf("migration_init_failed: %w", err)
	}
	defer func() {
		sourceErr, databaseErr := migrator.Close()
		if sourceErr != nil {
			logger.Error("migration_source_close_failed", slog.Any("error", sourceErr))
		}
		if databaseErr != nil {
			logger.Error("migration_db_close_failed", slog.Any("error", databaseErr))
		}
	}()

	migrator.Log = &slogBridge{logger: logger}

	before, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migration_version_lookup_failed: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration_dirty_state: schema stuck at version %d, manual intervention required", before)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema_up_to_date", slog.Int("version", int(before)))
			return nil
		}
		return fmt.Errorf("migration_up_failed: %w", err)
	}

	after, _, _ := migrator.Version()
	logger.Info("schema_migrated",
		slog.Int("from_version", int(before)),
		slog.Int("to_version", int(after)),
	)

	return nil
}

// pgx5URL rewrites a postgres URL onto the pgx5:// scheme golang-migrate
// uses to select its pgx/v5 driver.
func pgx5URL(dsn string) string {
	if rest, ok := strings.CutPrefix(dsn, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(dsn, "postgres://"); ok {
		return "pgx5://" + rest
	}
	return dsn
}

// slogBridge adapts golang-migrate's logger interface to slog.
type slogBridge struct {
	logger *slog.Logger
}

// Printf implements migrate.Logger.
func (bridge *slogBridge) Printf(format string, args ...any) {
	bridge.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Verbose implements migrate.Logger.
func (bridge *slogBridge) Verbose() bool { return false }
