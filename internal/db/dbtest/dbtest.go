// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"cbtengine/internal/db"
)

// OpenSQLite opens a migrated SQLite database in a per-test directory.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{
		Driver: db.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "cbt.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}
