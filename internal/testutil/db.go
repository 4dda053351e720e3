package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/kjannette/trahn-marketdata/internal/db"
)

// SetupSQLite opens a fresh SQLite store with the schema applied. The file
// lives in the test's temp dir and is removed with it.
func SetupSQLite(t *testing.T) *db.Handle {
	t.Helper()

	h, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(h.Close)

	if err := db.EnsureSchema(context.Background(), h); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return h
}

// SetupPostgres connects to the integration database named by
// TEST_DATABASE_URL and skips the test when it is not configured.
func SetupPostgres(t *testing.T) *db.Handle {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	h, err := db.OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(h.Close)

	ctx := context.Background()
	if err := db.EnsureSchema(ctx, h); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, table := range []string{"asset_metrics", "prices", "etl_runs", "assets"} {
		if _, err := h.DB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	return h
}
