package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// MetricsRepo persists the derived asset_metrics cache.
type MetricsRepo struct {
	conn
}

const upsertMetricsTail = `
	ON CONFLICT (asset_id, date, window_days) DO UPDATE SET
		daily_return = excluded.daily_return,
		cumulative_return = excluded.cumulative_return,
		volatility = excluded.volatility,
		computed_at = excluded.computed_at
	WHERE asset_metrics.daily_return IS DISTINCT FROM excluded.daily_return
		OR asset_metrics.cumulative_return IS DISTINCT FROM excluded.cumulative_return
		OR asset_metrics.volatility IS DISTINCT FROM excluded.volatility`

const metricsChunk = 500

// Upsert stores points in one transaction and returns how many rows changed.
// Every point must carry its AssetID.
func (r *MetricsRepo) Upsert(ctx context.Context, points []models.MetricPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	changed := 0
	for start := 0; start < len(points); start += metricsChunk {
		end := min(start+metricsChunk, len(points))
		chunk := points[start:end]

		args := make([]any, 0, len(chunk)*7)
		for _, m := range chunk {
			if m.AssetID == 0 {
				return 0, fmt.Errorf("metric %s@%s has no asset id", m.Symbol, models.FormatDate(m.Date))
			}
			args = append(args, m.AssetID, models.FormatDate(m.Date), m.Window,
				m.DailyReturn, m.CumulativeReturn, m.Volatility, now)
		}
		query := `INSERT INTO asset_metrics
			(asset_id, date, window_days, daily_return, cumulative_return, volatility, computed_at)
			VALUES ` + placeholders(len(chunk), 7) + upsertMetricsTail
		res, err := tx.ExecContext(ctx, r.q(query), args...)
		if err != nil {
			return 0, fmt.Errorf("upsert metrics [%d:%d]: %w", start, end, err)
		}
		changed += affected(res)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// List returns stored metrics for symbol and window with from <= date <= to,
// oldest first. Zero bounds are open.
func (r *MetricsRepo) List(ctx context.Context, symbol string, window int, from, to time.Time) ([]models.MetricPoint, error) {
	query := `SELECT m.asset_id, a.symbol, m.date, m.window_days, m.daily_return, m.cumulative_return, m.volatility
		FROM asset_metrics m JOIN assets a ON a.id = m.asset_id
		WHERE a.symbol = ? AND m.window_days = ?`
	args := []any{strings.ToUpper(symbol), window}
	if !from.IsZero() {
		query += ` AND m.date >= ?`
		args = append(args, models.FormatDate(from))
	}
	if !to.IsZero() {
		query += ` AND m.date <= ?`
		args = append(args, models.FormatDate(to))
	}
	query += ` ORDER BY m.date ASC`

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MetricPoint
	for rows.Next() {
		var m models.MetricPoint
		var dr, cr, vol sql.NullFloat64
		if err := rows.Scan(&m.AssetID, &m.Symbol, dateCol{&m.Date}, &m.Window, &dr, &cr, &vol); err != nil {
			return nil, err
		}
		m.DailyReturn, m.CumulativeReturn, m.Volatility = floatPtr(dr), floatPtr(cr), floatPtr(vol)
		out = append(out, m)
	}
	return out, rows.Err()
}
