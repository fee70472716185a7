// Package pipeline runs one monitor cycle: ingest, then classify, then report.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/clock"
	"github.com/JakeFAU/govwatch/internal/id/uuid"
	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// Ingestor performs one taxonomy sweep.
type Ingestor interface {
	Run(ctx context.Context, runID string) (monitor.IngestStats, error)
}

// Router performs one classification pass.
type Router interface {
	Run(ctx context.Context, runID string) (monitor.RouteStats, error)
}

// Task wires the stages of a run together. It is safe to call Run from one
// goroutine at a time; LastSummary may be read concurrently.
type Task struct {
	ingestor  Ingestor
	router    Router
	ids       monitor.IDGenerator
	clock     monitor.Clock
	publisher monitor.Publisher
	topic     string
	logger    *zap.Logger

	mu   sync.RWMutex
	last *monitor.RunSummary
}

// Option customizes a Task.
type Option func(*Task)

// WithPublisher publishes each RunSummary to topic.
func WithPublisher(p monitor.Publisher, topic string) Option {
	return func(t *Task) {
		t.publisher = p
		t.topic = topic
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g monitor.IDGenerator) Option {
	return func(t *Task) {
		if g != nil {
			t.ids = g
		}
	}
}

// WithClock overrides the time source used for run timings.
func WithClock(c monitor.Clock) Option {
	return func(t *Task) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTask builds a Task. A nil router yields ingest-only runs; a nil ingestor
// yields classify-only runs.
func NewTask(ingestor Ingestor, router Router, opts ...Option) (*Task, error) {
	if ingestor == nil && router == nil {
		return nil, fmt.Errorf("at least one of ingestor or router is required")
	}
	t := &Task{
		ingestor: ingestor,
		router:   router,
		ids:      uuid.NewGenerator(),
		clock:    clock.System{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run executes ingest then route. An ingest error stops the run before routing.
// The summary is always recorded and returned, even when err is non-nil.
func (t *Task) Run(ctx context.Context) (monitor.RunSummary, error) {
	runID, err := t.ids.NewID()
	if err != nil {
		return monitor.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := monitor.RunSummary{
		RunID:     runID,
		StartedAt: t.clock.Now(),
		Route:     monitor.NewRouteStats(),
	}
	log := t.logger.With(zap.String("run_id", runID))
	log.Info("run started")

	err = t.stages(ctx, runID, &summary)

	summary.FinishedAt = t.clock.Now()
	summary.Status = monitor.RunSucceeded
	if err != nil {
		summary.Status = monitor.RunFailed
		summary.ErrorText = err.Error()
	}
	metrics.ObserveRun(string(summary.Status), summary.Duration())

	t.mu.Lock()
	t.last = &summary
	t.mu.Unlock()

	t.publish(ctx, log, summary)

	fields := []zap.Field{
		zap.String("status", string(summary.Status)),
		zap.Duration("duration", summary.Duration()),
		zap.Int("inserted_raw", summary.Ingest.Inserted),
		zap.Int("classified", summary.Route.TotalInserted()),
		zap.Int("classification_errors", summary.Route.Errors),
	}
	if err != nil {
		log.Error("run failed", append(fields, zap.Error(err))...)
		return summary, err
	}
	log.Info("run finished", fields...)
	return summary, nil
}

func (t *Task) stages(ctx context.Context, runID string, summary *monitor.RunSummary) error {
	if t.ingestor != nil {
		stats, err := t.ingestor.Run(ctx, runID)
		summary.Ingest = stats
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	if t.router != nil {
		stats, err := t.router.Run(ctx, runID)
		summary.Route = stats
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
	}
	return nil
}

func (t *Task) publish(ctx context.Context, log *zap.Logger, summary monitor.RunSummary) {
	if t.publisher == nil {
		return
	}
	// A cancelled run still reports its summary.
	pubCtx := context.WithoutCancel(ctx)
	id, err := t.publisher.Publish(pubCtx, t.topic, summary)
	if err != nil {
		metrics.ObservePublishFailure()
		log.Warn("publish run summary failed", zap.Error(err))
		return
	}
	log.Debug("run summary published", zap.String("message_id", id))
}

// LastSummary returns the most recent run summary, if any.
func (t *Task) LastSummary() (monitor.RunSummary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return monitor.RunSummary{}, false
	}
	return *t.last, true
}
