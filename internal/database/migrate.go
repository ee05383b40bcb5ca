package database

import (
	"context"
	"embed"
	"fmt"
	"path"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

func prepare(db *bun.DB) (string, error) {
	goose.SetBaseFS(embedMigrations)

	if IsSQLite(db) {
		if err := goose.SetDialect("sqlite3"); err != nil {
			return "", fmt.Errorf("set goose dialect: %w", err)
		}
		return path.Join("migrations", DriverSQLite), nil
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	return path.Join("migrations", DriverPostgres), nil
}

// Migrate applies all pending embedded migrations.
func Migrate(ctx context.Context, db *bun.DB) error {
	dir, err := prepare(db)
	if err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// MigrationStatus logs the applied state of every embedded migration.
func MigrationStatus(ctx context.Context, db *bun.DB) error {
	dir, err := prepare(db)
	if err != nil {
		return err
	}

	if err := goose.StatusContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("goose status failed: %w", err)
	}

	return nil
}

// CurrentVersion returns the latest applied migration version.
func CurrentVersion(ctx context.Context, db *bun.DB) (int64, error) {
	if _, err := prepare(db); err != nil {
		return 0, err
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("goose version failed: %w", err)
	}

	return version, nil
}
