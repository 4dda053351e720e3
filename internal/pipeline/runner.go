package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-marketdata/internal/etl"
	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/kjannette/trahn-marketdata/internal/quality"
)

// ErrRunInProgress is returned when a run is requested while another one
// is still executing.
var ErrRunInProgress = errors.New("an etl run is already in progress")

const finalizeTimeout = 10 * time.Second

type RunStore interface {
	Create(ctx context.Context, run *models.EtlRun) error
	Finalize(ctx context.Context, run *models.EtlRun) error
}

type Extractor interface {
	Extract(ctx context.Context) (*etl.Stream, etl.Selection, error)
}

type Transformer interface {
	Transform(records iter.Seq[etl.RawAssetRecord]) (*etl.TransformResult, error)
}

type Loader interface {
	Load(ctx context.Context, assets []models.Asset, prices []models.PricePoint) (models.LoadCounts, error)
}

type Gate interface {
	Check(res *etl.TransformResult) error
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run models.EtlRun) error
}

// PostLoadFunc runs after a successful commit. Its failure is logged and
// does not change the run outcome.
type PostLoadFunc func(ctx context.Context, run *Run) error

type Runner struct {
	runs        RunStore
	extractor   Extractor
	transformer Transformer
	loader      Loader
	gate        Gate
	postLoad    []PostLoadFunc
	notifier    Notifier
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	mu sync.Mutex
}

type Options struct {
	Runs        RunStore
	Extractor   Extractor
	Transformer Transformer
	Loader      Loader
	Gate        Gate
	PostLoad    []PostLoadFunc
	Notifier    Notifier
	Logger      *slog.Logger
	Clock       func() time.Time
	NewID       func() string
}

func NewRunner(opts Options) *Runner {
	r := &Runner{
		runs:        opts.Runs,
		extractor:   opts.Extractor,
		transformer: opts.Transformer,
		loader:      opts.Loader,
		gate:        opts.Gate,
		postLoad:    opts.PostLoad,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		now:         opts.Clock,
		newID:       opts.NewID,
	}
	if r.gate == nil {
		// structural checks always run; limits stay off
		r.gate = quality.NewGate(quality.Limits{})
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "pipeline")
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Run executes one tracked extract, transform and load pass. The returned
// error is non-nil when the run FAILED or its final state could not be
// recorded. A Run is returned whenever a run row was created.
func (r *Runner) Run(ctx context.Context) (run *Run, err error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	run = newRun(r.newID(), r.now())
	if err := r.runs.Create(ctx, &run.EtlRun); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	log := r.logger.With("run_id", run.ID)
	log.Info("run started")

	defer func() {
		if p := recover(); p != nil {
			log.Error("run panicked", "panic", p)
			run.fail(run.State, fmt.Errorf("panic: %v", p))
		}
		err = r.finish(ctx, run, log)
	}()

	r.execute(ctx, run, log)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *Run, log *slog.Logger) {
	if err := run.advance(StateExtracting); err != nil {
		run.fail(run.State, err)
		return
	}
	stream, sel, err := r.extractor.Extract(ctx)
	run.Selection = sel
	if err != nil {
		run.fail(StateExtracting, fmt.Errorf("select assets: %w", err))
		return
	}
	log.Info("assets selected",
		"candidates", len(sel.Candidates),
		"excluded", sel.Excluded,
		"invalid", sel.Invalid,
		"shortfall", sel.Shortfall,
	)

	if err := run.advance(StateTransforming); err != nil {
		run.fail(run.State, err)
		return
	}
	res, terr := r.transformer.Transform(stream.Records())
	skipped := stream.Skipped()
	if err := stream.Err(); err != nil {
		run.Skipped = skipped
		run.AssetsSkipped = len(skipped)
		run.fail(StateExtracting, fmt.Errorf("extraction interrupted: %w", err))
		return
	}
	if res != nil {
		run.PricesRejected = res.Rejected
		run.Rejections = res.Reasons
		skipped = append(skipped, res.Dropped...)
	}
	run.Skipped = skipped
	run.AssetsSkipped = len(skipped)
	if terr != nil {
		if stream.Len() > 0 && len(skipped) == stream.Len() {
			terr = fmt.Errorf("extraction failed for all %d assets (%s): %w",
				stream.Len(), etl.SummarizeSkipped(skipped), terr)
		}
		run.fail(StateTransforming, terr)
		return
	}
	if err := r.gate.Check(res); err != nil {
		run.fail(StateTransforming, err)
		return
	}

	if err := run.advance(StateLoading); err != nil {
		run.fail(run.State, err)
		return
	}
	counts, err := r.loader.Load(ctx, res.Assets, res.Prices)
	if err != nil {
		run.fail(StateLoading, err)
		return
	}
	run.AssetsLoaded = counts.AssetsUpserted
	run.PricesLoaded = counts.PricesUpserted
	run.PricesChanged = counts.PricesChanged

	next := StateSuccess
	if len(run.Skipped) > 0 && run.AssetsLoaded > 0 {
		next = StatePartial
	}
	if err := run.advance(next); err != nil {
		run.fail(run.State, err)
		return
	}
	run.Error = outcomeDetail(run)

	for _, hook := range r.postLoad {
		if err := hook(ctx, run); err != nil {
			log.Warn("post-load step failed", "error", err)
		}
	}
}

// outcomeDetail describes what a committed run left out.
func outcomeDetail(run *Run) string {
	var parts []string
	if len(run.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("skipped %d assets: %s", len(run.Skipped), etl.SummarizeSkipped(run.Skipped)))
	}
	if n := run.Selection.Shortfall; n > 0 {
		parts = append(parts, fmt.Sprintf("selected %d of %d requested assets", len(run.Selection.Candidates), len(run.Selection.Candidates)+n))
	}
	return strings.Join(parts, "; ")
}

// finish closes the run and writes its final state. It is the last step of
// every Run call.
func (r *Runner) finish(ctx context.Context, run *Run, log *slog.Logger) error {
	if !run.close(r.now()) {
		return nil
	}

	// record the outcome even if the caller's context is already done
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if r.notifier != nil && run.Status != models.RunSuccess {
		if err := r.notifier.NotifyRun(fctx, run.EtlRun); err != nil {
			log.Warn("run notification failed", "error", err)
		}
	}

	ferr := r.runs.Finalize(fctx, &run.EtlRun)
	attrs := []any{
		"status", run.Status,
		"assets_loaded", run.AssetsLoaded,
		"prices_loaded", run.PricesLoaded,
		"prices_rejected", run.PricesRejected,
		"assets_skipped", run.AssetsSkipped,
		"prices_changed", run.PricesChanged,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	}
	switch {
	case run.Status == models.RunFailed:
		log.Error("run failed", append(attrs, "error", run.Err)...)
	case run.Status == models.RunPartial:
		log.Warn("run finished with skipped assets", append(attrs, "detail", run.Error)...)
	default:
		log.Info("run finished", attrs...)
	}

	if ferr != nil {
		log.Error("failed to record run outcome", "error", ferr)
		if run.Err != nil {
			return errors.Join(run.Err, ferr)
		}
		return ferr
	}
	return run.Err
}
