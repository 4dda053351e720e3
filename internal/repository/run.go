package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// ErrRunFinalized is returned when finalizing a run that is already closed.
var ErrRunFinalized = errors.New("etl run already finalized")

type RunRepo struct {
	conn
}

const runColumns = `id, started_at, finished_at, assets_loaded, prices_loaded,
	prices_rejected, assets_skipped, prices_changed, status, error`

func (r *RunRepo) Create(ctx context.Context, run *models.EtlRun) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO etl_runs (id, started_at, status) VALUES (?, ?, ?)`),
		run.ID, fmtTime(run.StartedAt), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// Finalize closes an open run. The row is only updated while finished_at is
// NULL, so a run can be closed exactly once.
func (r *RunRepo) Finalize(ctx context.Context, run *models.EtlRun) error {
	if run.FinishedAt == nil {
		return fmt.Errorf("finalize run %s: finished_at not set", run.ID)
	}
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE etl_runs SET
			finished_at = ?, assets_loaded = ?, prices_loaded = ?, prices_rejected = ?,
			assets_skipped = ?, prices_changed = ?, status = ?, error = ?
		 WHERE id = ? AND finished_at IS NULL`),
		fmtTime(*run.FinishedAt), run.AssetsLoaded, run.PricesLoaded, run.PricesRejected,
		run.AssetsSkipped, run.PricesChanged, string(run.Status), run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("finalize run %s: %w", run.ID, ErrRunFinalized)
	}
	return nil
}

// Get returns nil when no run has the id.
func (r *RunRepo) Get(ctx context.Context, id string) (*models.EtlRun, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+runColumns+` FROM etl_runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// List returns the most recent runs first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]models.EtlRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT `+runColumns+` FROM etl_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EtlRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row scannable) (*models.EtlRun, error) {
	var run models.EtlRun
	var started *time.Time
	var status string
	err := row.Scan(&run.ID, timeCol{&started}, timeCol{&run.FinishedAt},
		&run.AssetsLoaded, &run.PricesLoaded, &run.PricesRejected, &run.AssetsSkipped,
		&run.PricesChanged, &status, &run.Error)
	if err != nil {
		return nil, err
	}
	if started != nil {
		run.StartedAt = *started
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}
