package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func TestNormalizeDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: DriverPostgres},
		{in: "postgres", want: DriverPostgres},
		{in: " PGX ", want: DriverPostgres},
		{in: "sqlite3", want: DriverSQLite},
		{in: "sqlite", want: DriverSQLite},
		{in: "mysql", wantErr: true},
	}
	for _, tc := range tests {
		got, err := NormalizeDriver(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn := openSQLite(t)
	if err := Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (id, text, question_type, created_at)
			VALUES ($1, 'q', 'theory', 0)
		`, "q-rollback"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE id = $1`, "q-rollback").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestWithTxCommits(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	err := WithTx(ctx, conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO questions (id, text, question_type, created_at)
			VALUES ($1, 'q', 'theory', 0)
		`, "q-commit")
		return err
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE id = $1`, "q-commit").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected committed row, found %d", n)
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "cbt.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
