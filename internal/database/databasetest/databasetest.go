// Package databasetest provides a migrated in-memory SQLite database for tests.
package databasetest

import (
	"context"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database"
)

// New returns a fresh database with every migration applied.
// It is closed when the test finishes.
func New(t testing.TB) *bun.DB {
	t.Helper()

	goose.SetLogger(goose.NopLogger())

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db))

	return db
}
