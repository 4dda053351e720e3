package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type PriceRepo struct {
	conn
}

const priceSelect = `SELECT p.asset_id, a.symbol, p.date, p.price, p.market_cap, p.volume
	FROM prices p JOIN assets a ON a.id = p.asset_id`

// Range returns prices for symbol with start <= date <= end, oldest first.
// Zero bounds are open; limit <= 0 means no limit.
func (r *PriceRepo) Range(ctx context.Context, symbol string, start, end time.Time, limit int) ([]models.PricePoint, error) {
	query := priceSelect + ` WHERE a.symbol = ?`
	args := []any{strings.ToUpper(symbol)}
	if !start.IsZero() {
		query += ` AND p.date >= ?`
		args = append(args, models.FormatDate(start))
	}
	if !end.IsZero() {
		query += ` AND p.date <= ?`
		args = append(args, models.FormatDate(end))
	}
	query += ` ORDER BY p.date ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrices(rows)
}

// Series returns the full stored history of symbol, oldest first.
func (r *PriceRepo) Series(ctx context.Context, symbol string) ([]models.PricePoint, error) {
	return r.Range(ctx, symbol, time.Time{}, time.Time{}, 0)
}

// LatestDate returns the most recent stored date for symbol.
func (r *PriceRepo) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var d time.Time
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT p.date FROM prices p JOIN assets a ON a.id = p.asset_id
		 WHERE a.symbol = ? ORDER BY p.date DESC LIMIT 1`),
		strings.ToUpper(symbol),
	).Scan(dateCol{&d})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func (r *PriceRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prices`).Scan(&n)
	return n, err
}

func collectPrices(rows rowsIter) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		var mcap, vol sql.NullFloat64
		if err := rows.Scan(&p.AssetID, &p.Symbol, dateCol{&p.Date}, &p.Price, &mcap, &vol); err != nil {
			return nil, err
		}
		p.MarketCap = floatPtr(mcap)
		p.Volume = floatPtr(vol)
		out = append(out, p)
	}
	return out, rows.Err()
}
