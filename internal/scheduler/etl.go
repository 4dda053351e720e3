package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/pipeline"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Run, error)
}

type ETLSchedulerConfig struct {
	Interval      time.Duration // e.g. 24*time.Hour
	RunTimeout    time.Duration
	RunOnStart    bool
	OnRunComplete func(run *pipeline.Run, err error)
}

// ETLScheduler triggers pipeline runs on a fixed interval. Runs never
// overlap: a tick that arrives while a run is in progress is skipped.
type ETLScheduler struct {
	runner Runner
	cfg    ETLSchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewETLScheduler(runner Runner, cfg ETLSchedulerConfig, logger *slog.Logger) *ETLScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ETLScheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "etl-scheduler"),
	}
}

func (s *ETLScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.cfg.RunOnStart {
			s.tick(stop)
		}
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick(stop)
			}
		}
	}()

	s.logger.Info("started", "interval", s.cfg.Interval, "run_on_start", s.cfg.RunOnStart)
}

// Stop halts the ticker and cancels an in-flight scheduled run, waiting for
// it to record its outcome.
func (s *ETLScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *ETLScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a run outside the normal schedule. It returns
// pipeline.ErrRunInProgress if a run is already executing.
func (s *ETLScheduler) RunNow(ctx context.Context) (*pipeline.Run, error) {
	s.logger.Info("manual run triggered")
	run, err := s.runner.Run(ctx)
	s.complete(run, err)
	return run, err
}

func (s *ETLScheduler) tick(stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	run, err := s.runner.Run(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.logger.Warn("previous run still in progress, skipping tick")
		return
	}
	s.complete(run, err)
}

func (s *ETLScheduler) complete(run *pipeline.Run, err error) {
	if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
		s.logger.Error("scheduled run failed", "error", err)
	}
	if s.cfg.OnRunComplete != nil {
		s.cfg.OnRunComplete(run, err)
	}
}
