// Package router classifies stored records and files each into exactly one partition.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/clock"
	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// Observer receives the outcome of every record visited.
type Observer func(monitor.ItemOutcome)

// Router walks the raw collection and routes unclassified records.
type Router struct {
	store      monitor.DocumentStore
	classifier monitor.Classifier
	clock      monitor.Clock
	logger     *zap.Logger
	observer   Observer

	// mu serializes runs. index is rebuilt at the start of each run and only
	// touched while mu is held.
	mu    sync.Mutex
	index map[string]struct{}
}

// Option customizes a Router.
type Option func(*Router)

// WithObserver reports per-item outcomes to fn.
func WithObserver(fn Observer) Option {
	return func(r *Router) { r.observer = fn }
}

// WithClock overrides the time source used for ClassifiedAt.
func WithClock(c monitor.Clock) Option {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New wires a Router.
func New(store monitor.DocumentStore, classifier monitor.Classifier, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	r := &Router{
		store:      store,
		classifier: classifier,
		clock:      clock.System{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run classifies every raw record not yet present in a partition. The
// classified-ID index is reloaded from the partitions first, so writes made by
// other processes since the last run are honoured. Per-item
// classification failures are counted and skipped; store failures and
// cancellation end the pass and are returned alongside the partial stats.
func (r *Router) Run(ctx context.Context, runID string) (monitor.RouteStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := monitor.NewRouteStats()
	log := r.logger.With(zap.String("run_id", runID))

	if err := r.rebuildIndex(ctx); err != nil {
		return stats, fmt.Errorf("route run %s: %w", runID, err)
	}
	log.Debug("classified index loaded", zap.Int("ids", len(r.index)))

	err := r.store.Stream(ctx, monitor.CollectionRaw, func(rec monitor.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Seen++
		outcome, err := r.route(ctx, rec, &stats)
		if err != nil {
			return err
		}
		r.report(log, outcome)
		return nil
	})
	if err != nil {
		r.logSummary(log, stats, err)
		return stats, fmt.Errorf("route run %s: %w", runID, err)
	}
	r.logSummary(log, stats, nil)
	return stats, nil
}

func (r *Router) route(ctx context.Context, rec monitor.Record, stats *monitor.RouteStats) (monitor.ItemOutcome, error) {
	out := monitor.ItemOutcome{ID: rec.ID}
	switch {
	case rec.ID == "":
		stats.Invalid++
		out.Status = monitor.OutcomeInvalid
		out.Reason = "missing id"
		return out, nil
	case r.seen(rec.ID):
		stats.SkippedDuplicate++
		out.Status = monitor.OutcomeSkippedDuplicate
		return out, nil
	case strings.TrimSpace(rec.Text) == "":
		stats.SkippedEmpty++
		out.Status = monitor.OutcomeSkippedEmpty
		return out, nil
	}

	partition, err := r.classifier.Classify(ctx, rec.Text)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		kind := monitor.ClassificationErrorKind(err)
		stats.Errors++
		metrics.ObserveClassificationError(string(kind))
		out.Status = monitor.OutcomeFailed
		out.Reason = err.Error()
		return out, nil
	}
	if !partition.Valid() {
		stats.Errors++
		metrics.ObserveClassificationError(string(monitor.KindProtocol))
		out.Status = monitor.OutcomeFailed
		out.Reason = fmt.Sprintf("classifier returned unknown partition %q", partition)
		return out, nil
	}

	now := r.clock.Now()
	rec.Partition = partition
	rec.ClassifiedAt = &now
	inserted, err := r.store.InsertIfAbsent(ctx, partition.Collection(), rec)
	if err != nil {
		return out, fmt.Errorf("insert %s into %s: %w", rec.ID, partition.Collection(), err)
	}
	r.index[rec.ID] = struct{}{}
	if !inserted {
		stats.SkippedDuplicate++
		out.Status = monitor.OutcomeSkippedDuplicate
		out.Reason = "already present in " + partition.Collection()
		return out, nil
	}
	stats.Inserted[partition]++
	metrics.ObserveClassification(string(partition))
	out.Status = monitor.OutcomeClassified
	out.Partition = partition
	return out, nil
}

func (r *Router) seen(id string) bool {
	_, ok := r.index[id]
	return ok
}

func (r *Router) rebuildIndex(ctx context.Context) error {
	index := make(map[string]struct{})
	for _, p := range monitor.Partitions() {
		ids, err := r.store.DistinctIDs(ctx, p.Collection())
		if err != nil {
			return fmt.Errorf("load ids from %s: %w", p.Collection(), err)
		}
		for _, id := range ids {
			index[id] = struct{}{}
		}
	}
	r.index = index
	return nil
}

func (r *Router) report(log *zap.Logger, out monitor.ItemOutcome) {
	if out.Status == monitor.OutcomeFailed {
		log.Warn("classification failed", zap.String("id", out.ID), zap.String("reason", out.Reason))
	} else {
		log.Debug("item routed",
			zap.String("id", out.ID),
			zap.String("status", string(out.Status)),
			zap.String("partition", string(out.Partition)),
		)
	}
	if r.observer != nil {
		r.observer(out)
	}
}

func (r *Router) logSummary(log *zap.Logger, stats monitor.RouteStats, err error) {
	fields := []zap.Field{
		zap.Int("seen", stats.Seen),
		zap.Int("unhandled", stats.Inserted[monitor.PartitionUnhandled]),
		zap.Int("mishandled", stats.Inserted[monitor.PartitionMishandled]),
		zap.Int("non_issue", stats.Inserted[monitor.PartitionNonIssue]),
		zap.Int("errors", stats.Errors),
		zap.Int("skipped_duplicate", stats.SkippedDuplicate),
		zap.Int("skipped_empty", stats.SkippedEmpty),
		zap.Int("invalid", stats.Invalid),
	}
	switch {
	case err != nil:
		log.Error("classification pass aborted", append(fields, zap.Error(err))...)
	case stats.Errors > 0:
		log.Warn("classification pass finished with errors", fields...)
	default:
		log.Info("classification pass finished", fields...)
	}
}
