package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kjannette/trahn-marketdata/internal/db"
)

func TestOpenSQLite_SchemaIsIdempotent(t *testing.T) {
	h, err := db.OpenSQLite(filepath.Join(t.TempDir(), "nested", "store.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.EnsureSchema(ctx, h); err != nil {
			t.Fatalf("EnsureSchema pass %d: %v", i+1, err)
		}
	}

	now, err := db.TestConnection(ctx, h)
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	t.Logf("sqlite clock: %s", now)

	var fk int
	if err := h.DB.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign keys enabled, got %d", fk)
	}
}

func TestOpenSQLite_PriceCheckConstraint(t *testing.T) {
	h, err := db.OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()
	if err := db.EnsureSchema(ctx, h); err != nil {
		t.Fatal(err)
	}

	if _, err := h.DB.ExecContext(ctx, `INSERT INTO assets (symbol, name, source) VALUES ('BTC', 'Bitcoin', 'coingecko')`); err != nil {
		t.Fatal(err)
	}
	_, err = h.DB.ExecContext(ctx, `INSERT INTO prices (asset_id, date, price) VALUES (1, '2024-06-01', 0)`)
	if err == nil {
		t.Fatal("expected CHECK (price > 0) to reject a zero price")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := db.Open("mysql", "", ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
