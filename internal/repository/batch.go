package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// BatchRepo is the write path of the loader.
type BatchRepo struct {
	conn
	chunkSize int
}

// MaxChunkSize keeps one price statement (five parameters per row) under
// SQLite's default limit of 32766 bound parameters. Postgres allows 65535.
const MaxChunkSize = 32766 / 5

// SetChunkSize sets the rows per price statement, capped at MaxChunkSize.
func (r *BatchRepo) SetChunkSize(n int) {
	if n > 0 {
		r.chunkSize = min(n, MaxChunkSize)
	}
}

const upsertAsset = `INSERT INTO assets (symbol, name, source, source_id)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (symbol) DO UPDATE SET
		name = excluded.name,
		source = excluded.source,
		source_id = excluded.source_id,
		updated_at = CURRENT_TIMESTAMP
	WHERE assets.name IS DISTINCT FROM excluded.name
		OR assets.source IS DISTINCT FROM excluded.source
		OR assets.source_id IS DISTINCT FROM excluded.source_id`

const upsertPricesHead = `INSERT INTO prices (asset_id, date, price, market_cap, volume) VALUES `

const upsertPricesTail = `
	ON CONFLICT (asset_id, date) DO UPDATE SET
		price = excluded.price,
		market_cap = excluded.market_cap,
		volume = excluded.volume
	WHERE prices.price IS DISTINCT FROM excluded.price
		OR prices.market_cap IS DISTINCT FROM excluded.market_cap
		OR prices.volume IS DISTINCT FROM excluded.volume`

// UpsertBatch writes assets then prices in a single transaction. Rows whose
// stored values already match are left untouched and do not count as
// changed. On any error the transaction is rolled back.
func (r *BatchRepo) UpsertBatch(ctx context.Context, assets []models.Asset, prices []models.PricePoint) (models.LoadCounts, error) {
	var counts models.LoadCounts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	assetStmt := r.q(upsertAsset)
	for _, a := range assets {
		res, err := tx.ExecContext(ctx, assetStmt, strings.ToUpper(a.Symbol), a.Name, a.Source, a.SourceID)
		if err != nil {
			return models.LoadCounts{}, fmt.Errorf("upsert asset %s: %w", a.Symbol, err)
		}
		counts.AssetsUpserted++
		counts.AssetsChanged += affected(res)
	}

	ids, err := r.assetIDs(ctx, tx, prices)
	if err != nil {
		return models.LoadCounts{}, err
	}

	size := r.chunkSize
	if size <= 0 {
		size = 1000
	}
	for start := 0; start < len(prices); start += size {
		end := min(start+size, len(prices))
		chunk := prices[start:end]

		args := make([]any, 0, len(chunk)*5)
		for _, p := range chunk {
			id, ok := ids[strings.ToUpper(p.Symbol)]
			if !ok {
				return models.LoadCounts{}, fmt.Errorf("price %s@%s references an unknown asset", p.Symbol, models.FormatDate(p.Date))
			}
			args = append(args, id, models.FormatDate(p.Date), p.Price, p.MarketCap, p.Volume)
		}

		query := r.q(upsertPricesHead + placeholders(len(chunk), 5) + upsertPricesTail)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return models.LoadCounts{}, fmt.Errorf("upsert prices [%d:%d]: %w", start, end, err)
		}
		counts.PricesUpserted += len(chunk)
		counts.PricesChanged += affected(res)
	}

	if err := tx.Commit(); err != nil {
		return models.LoadCounts{}, fmt.Errorf("commit: %w", err)
	}
	return counts, nil
}

func (r *BatchRepo) assetIDs(ctx context.Context, tx *sql.Tx, prices []models.PricePoint) (map[string]int64, error) {
	seen := make(map[string]bool)
	var symbols []any
	for _, p := range prices {
		s := strings.ToUpper(p.Symbol)
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	ids := make(map[string]int64, len(symbols))
	if len(symbols) == 0 {
		return ids, nil
	}

	query := `SELECT id, symbol FROM assets WHERE symbol IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(symbols)), ", ") + `)`
	rows, err := tx.QueryContext(ctx, r.q(query), symbols...)
	if err != nil {
		return nil, fmt.Errorf("resolve asset ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var symbol string
		if err := rows.Scan(&id, &symbol); err != nil {
			return nil, err
		}
		ids[symbol] = id
	}
	return ids, rows.Err()
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
