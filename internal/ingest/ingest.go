// Package ingest sweeps the taxonomy through the search provider and stores never-seen records.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/govwatch/internal/clock"
	"github.com/JakeFAU/govwatch/internal/hash/sha256"
	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
	"github.com/JakeFAU/govwatch/internal/taxonomy"
)

// Config is fixed for the lifetime of an Ingestor.
type Config struct {
	Taxonomy *taxonomy.Taxonomy
	// MaxRecords is the global ceiling on the raw collection size.
	MaxRecords int64
	// Concurrency bounds how many keywords are paginated at once.
	Concurrency int
	// LimiterKey groups waits on the limiter, usually the provider host.
	LimiterKey string
	// ArchivePrefix is the first path segment of archived pages.
	ArchivePrefix string
}

// Ingestor runs deduplicating taxonomy sweeps.
type Ingestor struct {
	cfg     Config
	search  monitor.SearchClient
	store   monitor.DocumentStore
	limiter monitor.Limiter
	archive monitor.BlobStore
	hasher  monitor.Hasher
	clock   monitor.Clock
	logger  *zap.Logger
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithLimiter paces successive pages of the same keyword.
func WithLimiter(l monitor.Limiter) Option {
	return func(in *Ingestor) { in.limiter = l }
}

// WithArchive stores every fetched page's raw body in blobs.
func WithArchive(blobs monitor.BlobStore) Option {
	return func(in *Ingestor) { in.archive = blobs }
}

// WithHasher overrides the keyword digest used in archive paths.
func WithHasher(h monitor.Hasher) Option {
	return func(in *Ingestor) {
		if h != nil {
			in.hasher = h
		}
	}
}

// WithClock overrides the time source used for FetchedAt.
func WithClock(c monitor.Clock) Option {
	return func(in *Ingestor) {
		if c != nil {
			in.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(in *Ingestor) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// New validates cfg and wires the collaborators.
func New(cfg Config, search monitor.SearchClient, store monitor.DocumentStore, opts ...Option) (*Ingestor, error) {
	if cfg.Taxonomy == nil {
		return nil, fmt.Errorf("taxonomy is required")
	}
	if search == nil {
		return nil, fmt.Errorf("search client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.MaxRecords <= 0 {
		return nil, fmt.Errorf("max records must be > 0")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	in := &Ingestor{
		cfg:    cfg,
		search: search,
		store:  store,
		hasher: sha256.NewTruncated(16),
		clock:  clock.System{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// sweep holds the state shared by every keyword of one run.
type sweep struct {
	runID   string
	ceiling atomic.Bool
}

// Run performs one full taxonomy sweep. Search errors end only the affected
// keyword; store errors and cancellation abort the sweep and are returned
// together with the stats gathered so far.
func (in *Ingestor) Run(ctx context.Context, runID string) (monitor.IngestStats, error) {
	pairs := in.cfg.Taxonomy.Pairs()
	results := make([]monitor.KeywordResult, len(pairs))
	state := &sweep{runID: runID}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i, pair := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := in.sweepKeyword(gctx, state, pair)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := summarize(results, state.ceiling.Load())
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("keywords", stats.Keywords),
		zap.Int("pages", stats.Pages),
		zap.Int("fetched", stats.Fetched),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("dropped", stats.Dropped),
		zap.Int("search_errors", stats.SearchErrors),
		zap.Bool("ceiling_reached", stats.CeilingReached),
	}
	if err != nil {
		in.logger.Error("ingest aborted", append(fields, zap.Error(err))...)
		return stats, fmt.Errorf("ingest run %s: %w", runID, err)
	}
	in.logger.Info("ingest complete", fields...)
	return stats, nil
}

func (in *Ingestor) sweepKeyword(ctx context.Context, state *sweep, pair taxonomy.Pair) (monitor.KeywordResult, error) {
	res := monitor.KeywordResult{Category: pair.Category, Keyword: pair.Keyword}
	log := in.logger.With(
		zap.String("run_id", state.runID),
		zap.String("category", pair.Category),
		zap.String("keyword", pair.Keyword),
	)
	finish := func(stop monitor.StopReason) {
		res.Stop = stop
		metrics.ObserveKeywordStop(string(stop))
		log.Debug("keyword finished",
			zap.String("stop", string(stop)),
			zap.Int("pages", res.Pages),
			zap.Int("inserted", res.Inserted),
		)
	}

	if state.ceiling.Load() {
		finish(monitor.StopCeiling)
		return res, nil
	}
	reached, err := in.ceilingReached(ctx)
	if err != nil {
		return res, err
	}
	if reached {
		state.ceiling.Store(true)
		finish(monitor.StopCeiling)
		return res, nil
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			finish(monitor.StopCanceled)
			return res, err
		}

		page, err := in.search.Search(ctx, pair.Keyword, cursor)
		if err != nil {
			if ctx.Err() != nil {
				finish(monitor.StopCanceled)
				return res, ctx.Err()
			}
			res.Error = err.Error()
			log.Error("search failed; skipping rest of keyword", zap.Int("page", res.Pages+1), zap.Error(err))
			finish(monitor.StopSearchError)
			return res, nil
		}

		res.Pages++
		res.Fetched += len(page.Records)
		res.Dropped += page.Dropped
		in.archivePage(ctx, state.runID, pair, res.Pages, page.Raw, log)

		inserted, err := in.storePage(ctx, pair, page.Records)
		if err != nil {
			return res, err
		}
		res.Inserted += inserted
		metrics.ObserveIngested(pair.Category, inserted)
		metrics.ObserveDuplicates(len(page.Records) - inserted)
		log.Info("page ingested",
			zap.Int("page", res.Pages),
			zap.Int("fetched", len(page.Records)),
			zap.Int("inserted", inserted),
			zap.Bool("has_next", page.NextCursor != ""),
		)

		if inserted == 0 {
			finish(monitor.StopNoNovel)
			return res, nil
		}
		if page.NextCursor == "" {
			finish(monitor.StopExhausted)
			return res, nil
		}
		reached, err := in.ceilingReached(ctx)
		if err != nil {
			return res, err
		}
		if reached {
			state.ceiling.Store(true)
			log.Warn("raw collection ceiling reached", zap.Int64("max_records", in.cfg.MaxRecords))
			finish(monitor.StopCeiling)
			return res, nil
		}

		if in.limiter != nil {
			if err := in.limiter.Wait(ctx, in.cfg.LimiterKey); err != nil {
				finish(monitor.StopCanceled)
				return res, err
			}
		}
		cursor = page.NextCursor
	}
}

func (in *Ingestor) storePage(ctx context.Context, pair taxonomy.Pair, records []monitor.Record) (int, error) {
	now := in.clock.Now()
	inserted := 0
	for _, rec := range records {
		rec.Category = pair.Category
		rec.Keyword = pair.Keyword
		rec.FetchedAt = now
		rec.Partition = ""
		rec.ClassifiedAt = nil
		ok, err := in.store.InsertIfAbsent(ctx, monitor.CollectionRaw, rec)
		if err != nil {
			return inserted, fmt.Errorf("store record %s for %q: %w", rec.ID, pair.Keyword, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (in *Ingestor) ceilingReached(ctx context.Context) (bool, error) {
	n, err := in.store.Count(ctx, monitor.CollectionRaw)
	if err != nil {
		return false, fmt.Errorf("count raw collection: %w", err)
	}
	return n >= in.cfg.MaxRecords, nil
}

func (in *Ingestor) archivePage(ctx context.Context, runID string, pair taxonomy.Pair, pageNo int, raw []byte, log *zap.Logger) {
	if in.archive == nil || len(raw) == 0 {
		return
	}
	digest, err := in.hasher.Hash([]byte(pair.Keyword))
	if err != nil {
		metrics.ObserveArchiveFailure()
		log.Warn("hash keyword for archive", zap.Error(err))
		return
	}
	key := ArchivePath(in.cfg.ArchivePrefix, runID, pair.Category, digest, pageNo)
	if _, err := in.archive.PutObject(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
		metrics.ObserveArchiveFailure()
		log.Warn("archive page failed", zap.String("path", key), zap.Error(err))
	}
}

// ArchivePath builds <prefix>/<run>/<category>/<digest>/page-NNNN.json.
func ArchivePath(prefix, runID, category, digest string, pageNo int) string {
	return path.Join(prefix, runID, category, digest, fmt.Sprintf("page-%04d.json", pageNo))
}

func summarize(results []monitor.KeywordResult, ceiling bool) monitor.IngestStats {
	stats := monitor.IngestStats{CeilingReached: ceiling}
	for _, res := range results {
		if res.Stop == "" && res.Pages == 0 {
			continue
		}
		stats.Keywords++
		stats.Pages += res.Pages
		stats.Fetched += res.Fetched
		stats.Inserted += res.Inserted
		stats.Dropped += res.Dropped
		stats.Duplicates += res.Fetched - res.Inserted
		if res.Stop == monitor.StopSearchError {
			stats.SearchErrors++
		}
		stats.Results = append(stats.Results, res)
	}
	return stats
}
