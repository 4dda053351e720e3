package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Handle is an open store: a database/sql handle plus the dialect the
// repositories should speak. Pool is set only for Postgres.
type Handle struct {
	DB      *sql.DB
	Dialect Dialect
	Pool    *pgxpool.Pool
}

func (h *Handle) Close() {
	if h.DB != nil {
		h.DB.Close()
	}
	if h.Pool != nil {
		h.Pool.Close()
	}
}

// Ping checks the store is reachable.
func (h *Handle) Ping(ctx context.Context) error {
	return h.DB.PingContext(ctx)
}

func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}

// OpenPostgres connects a pgx pool and exposes it through database/sql.
func OpenPostgres(dsn string) (*Handle, error) {
	pool, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	return &Handle{DB: stdlib.OpenDBFromPool(pool), Dialect: Postgres, Pool: pool}, nil
}

// OpenSQLite opens (creating if needed) an embedded database file.
func OpenSQLite(path string) (*Handle, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Handle{DB: db, Dialect: SQLite}, nil
}

// Open picks the backend named by driver.
func Open(driver, dsn, sqlitePath string) (*Handle, error) {
	switch Dialect(driver) {
	case Postgres:
		return OpenPostgres(dsn)
	case SQLite:
		return OpenSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// TestConnection runs a trivial query and returns the server clock.
func TestConnection(ctx context.Context, h *Handle) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := "SELECT CAST(CURRENT_TIMESTAMP AS TEXT)"
	var now string
	if err := h.DB.QueryRowContext(ctx, q).Scan(&now); err != nil {
		return "", fmt.Errorf("test query: %w", err)
	}
	return now, nil
}
