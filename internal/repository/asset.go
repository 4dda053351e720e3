package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type AssetRepo struct {
	conn
}

const assetColumns = `id, symbol, name, source, source_id, updated_at`

func (r *AssetRepo) List(ctx context.Context, limit int) ([]models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets ORDER BY symbol ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssets(rows)
}

// GetBySymbol returns nil when the symbol is unknown.
func (r *AssetRepo) GetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+assetColumns+` FROM assets WHERE symbol = ?`),
		strings.ToUpper(symbol),
	)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanAsset(row scannable) (*models.Asset, error) {
	var a models.Asset
	var updated *time.Time
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &a.Source, &a.SourceID, timeCol{&updated}); err != nil {
		return nil, err
	}
	if updated != nil {
		a.UpdatedAt = *updated
	}
	return &a, nil
}

func collectAssets(rows rowsIter) ([]models.Asset, error) {
	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
