// Package scheduler drives recurring monitor runs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// State is the scheduler's position in its two-state cycle.
type State string

// Scheduler states.
const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Task is one unit of scheduled work.
type Task interface {
	Run(ctx context.Context) (monitor.RunSummary, error)
}

// Scheduler runs a Task immediately and then once per interval. Runs never
// overlap; ticks that arrive during a run collapse into at most one follow-up.
type Scheduler struct {
	task     Task
	interval time.Duration
	logger   *zap.Logger

	running  atomic.Bool
	started  atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64
	trigger  chan struct{}
}

// New creates a Scheduler.
func New(task Task, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if task == nil {
		return nil, fmt.Errorf("task is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		task:     task,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is cancelled. It may only be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.Int64("runs", s.runs.Load()))
			return nil
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

// Trigger requests an extra run. It reports false when a request is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// State reports whether a run is in progress.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// Started reports whether Run has been called.
func (s *Scheduler) Started() bool {
	return s.started.Load()
}

// Runs returns how many runs have completed, including failed ones.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Failures returns how many runs ended in an error or panic.
func (s *Scheduler) Failures() int64 {
	return s.failures.Load()
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	s.running.Store(true)
	metrics.SetSchedulerRunning(true)
	defer func() {
		if rec := recover(); rec != nil {
			s.failures.Add(1)
			s.logger.Error("run panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
		s.runs.Add(1)
		s.running.Store(false)
		metrics.SetSchedulerRunning(false)
	}()

	s.logger.Debug("run starting", zap.String("reason", reason))
	summary, err := s.task.Run(ctx)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("run failed; waiting for next tick",
			zap.String("run_id", summary.RunID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
