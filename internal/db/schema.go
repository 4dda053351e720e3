package db

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id         BIGSERIAL PRIMARY KEY,
		symbol     TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		source     TEXT NOT NULL,
		source_id  TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		id         BIGSERIAL PRIMARY KEY,
		asset_id   BIGINT NOT NULL REFERENCES assets(id),
		date       DATE NOT NULL,
		price      NUMERIC(28, 8) NOT NULL CHECK (price > 0),
		market_cap NUMERIC(38, 2),
		volume     NUMERIC(38, 2),
		CONSTRAINT uq_prices_asset_date UNIQUE (asset_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_prices_date ON prices (date)`,
	`CREATE TABLE IF NOT EXISTS etl_runs (
		id              TEXT PRIMARY KEY,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ,
		assets_loaded   INTEGER NOT NULL DEFAULT 0,
		prices_loaded   INTEGER NOT NULL DEFAULT 0,
		prices_rejected INTEGER NOT NULL DEFAULT 0,
		assets_skipped  INTEGER NOT NULL DEFAULT 0,
		prices_changed  INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS asset_metrics (
		asset_id          BIGINT NOT NULL REFERENCES assets(id),
		date              DATE NOT NULL,
		window_days       INTEGER NOT NULL,
		daily_return      DOUBLE PRECISION,
		cumulative_return DOUBLE PRECISION,
		volatility        DOUBLE PRECISION,
		computed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (asset_id, date, window_days)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol     TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		source     TEXT NOT NULL,
		source_id  TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id   INTEGER NOT NULL REFERENCES assets(id),
		date       TEXT NOT NULL,
		price      REAL NOT NULL CHECK (price > 0),
		market_cap REAL,
		volume     REAL,
		UNIQUE (asset_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_prices_date ON prices (date)`,
	`CREATE TABLE IF NOT EXISTS etl_runs (
		id              TEXT PRIMARY KEY,
		started_at      TEXT NOT NULL,
		finished_at     TEXT,
		assets_loaded   INTEGER NOT NULL DEFAULT 0,
		prices_loaded   INTEGER NOT NULL DEFAULT 0,
		prices_rejected INTEGER NOT NULL DEFAULT 0,
		assets_skipped  INTEGER NOT NULL DEFAULT 0,
		prices_changed  INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS asset_metrics (
		asset_id          INTEGER NOT NULL REFERENCES assets(id),
		date              TEXT NOT NULL,
		window_days       INTEGER NOT NULL,
		daily_return      REAL,
		cumulative_return REAL,
		volatility        REAL,
		computed_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (asset_id, date, window_days)
	)`,
}

// EnsureSchema creates any missing tables. It never alters existing ones.
func EnsureSchema(ctx context.Context, h *Handle) error {
	stmts := postgresSchema
	if h.Dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := h.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
