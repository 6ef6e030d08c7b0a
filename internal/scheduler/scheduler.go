// Package scheduler runs the harvest pipeline periodically.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 24 hours.
	Interval time.Duration
	// SkipInitial suppresses the run that normally happens on start.
	SkipInitial bool
}

// Scheduler invokes a RunFunc on a fixed interval. Runs never overlap.
type Scheduler struct {
	run     RunFunc
	cfg     Config
	logger  *zap.Logger
	trigger chan struct{}
	running atomic.Bool
	runs    atomic.Int64
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		run:     run,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Run executes once immediately, then on every tick and manual trigger.
// Blocks until ctx is cancelled. A failing run is logged and the schedule
// continues.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if !s.cfg.SkipInitial {
		s.runOnce(ctx, "startup")
	}
	s.logger.Info("Scheduler started", zap.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
			ticker.Reset(s.cfg.Interval)
		}
	}
}

// TriggerRun requests an out-of-schedule run. It returns false when a run is
// in progress or one is already pending.
func (s *Scheduler) TriggerRun() bool {
	if s.running.Load() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Runs reports how many runs have completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

func (s *Scheduler) runOnce(ctx context.Context, cause string) {
	if ctx.Err() != nil {
		return
	}
	s.running.Store(true)
	defer s.running.Store(false)

	start := time.Now()
	s.logger.Info("Scheduled run starting", zap.String("cause", cause))
	err := s.run(ctx)
	s.runs.Add(1)
	if err != nil {
		s.logger.Error("Scheduled run failed",
			zap.String("cause", cause),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Scheduled run finished",
		zap.String("cause", cause),
		zap.Duration("elapsed", time.Since(start)),
		zap.Time("next_run", time.Now().Add(s.cfg.Interval)),
	)
}
