// Package app wires configuration into long-lived services and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/govwatch/internal/api"
	"github.com/JakeFAU/govwatch/internal/classifier/openai"
	"github.com/JakeFAU/govwatch/internal/config"
	"github.com/JakeFAU/govwatch/internal/id/uuid"
	"github.com/JakeFAU/govwatch/internal/ingest"
	"github.com/JakeFAU/govwatch/internal/monitor"
	"github.com/JakeFAU/govwatch/internal/pipeline"
	"github.com/JakeFAU/govwatch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/govwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/govwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/govwatch/internal/router"
	"github.com/JakeFAU/govwatch/internal/scheduler"
	"github.com/JakeFAU/govwatch/internal/search/rapidapi"
	gcsstorage "github.com/JakeFAU/govwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/govwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/govwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/govwatch/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/govwatch/internal/storage/sqlite"
	"github.com/JakeFAU/govwatch/internal/taxonomy"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     monitor.DocumentStore
	taxonomy  *taxonomy.Taxonomy
	ingestor  *ingest.Ingestor
	router    *router.Router
	task      *pipeline.Task
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	ids       monitor.IDGenerator
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option overrides a collaborator that would otherwise be built from config.
type Option func(*options)

type options struct {
	search     monitor.SearchClient
	classifier monitor.Classifier
	store      monitor.DocumentStore
	archive    monitor.BlobStore
	publisher  monitor.Publisher
}

// WithSearchClient replaces the RapidAPI search client.
func WithSearchClient(c monitor.SearchClient) Option {
	return func(o *options) { o.search = c }
}

// WithClassifier replaces the OpenAI classifier.
func WithClassifier(c monitor.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithDocumentStore replaces the configured document store.
func WithDocumentStore(s monitor.DocumentStore) Option {
	return func(o *options) { o.store = s }
}

// WithArchive replaces the configured raw-page archive.
func WithArchive(b monitor.BlobStore) Option {
	return func(o *options) { o.archive = b }
}

// WithPublisher replaces the configured run-summary publisher.
func WithPublisher(p monitor.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds every service described by cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.NewGenerator()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("building application dependencies",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.Duration("interval", cfg.Schedule.Interval),
	)

	if a.taxonomy, err = taxonomy.Load(cfg.Ingest.TaxonomyPath); err != nil {
		return nil, fmt.Errorf("taxonomy init failed: %w", err)
	}
	if a.store, err = a.setupStore(ctx, o.store); err != nil {
		return nil, err
	}
	search, limiterKey, err := a.setupSearch(o.search)
	if err != nil {
		return nil, err
	}
	classifier, err := a.setupClassifier(o.classifier)
	if err != nil {
		return nil, err
	}
	archive, err := a.setupArchive(ctx, o.archive)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx, o.publisher)
	if err != nil {
		return nil, err
	}

	ingestOpts := []ingest.Option{
		ingest.WithLimiter(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Search.RequestsPerSecond,
			Burst:             1,
		})),
		ingest.WithLogger(logger.Named("ingest")),
	}
	if archive != nil {
		ingestOpts = append(ingestOpts, ingest.WithArchive(archive))
	}
	a.ingestor, err = ingest.New(ingest.Config{
		Taxonomy:      a.taxonomy,
		MaxRecords:    cfg.Ingest.MaxRecords,
		Concurrency:   cfg.Ingest.Concurrency,
		LimiterKey:    limiterKey,
		ArchivePrefix: cfg.Archive.Prefix,
	}, search, a.store, ingestOpts...)
	if err != nil {
		return nil, fmt.Errorf("ingestor init failed: %w", err)
	}

	a.router, err = router.New(a.store, classifier, router.WithLogger(logger.Named("router")))
	if err != nil {
		return nil, fmt.Errorf("router init failed: %w", err)
	}

	a.task, err = pipeline.NewTask(a.ingestor, a.router,
		pipeline.WithPublisher(publisher, cfg.PubSub.TopicName),
		pipeline.WithIDGenerator(a.ids),
		pipeline.WithLogger(logger.Named("pipeline")),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.scheduler, err = scheduler.New(a.task, cfg.Schedule.Interval, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.store, a.task, a.scheduler, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger.Named("api"))

	return a, nil
}

func (a *App) setupStore(ctx context.Context, injected monitor.DocumentStore) (monitor.DocumentStore, error) {
	if injected != nil {
		return injected, nil
	}
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		maxConns := a.cfg.Store.MaxConns
		if maxConns <= 0 || int64(maxConns) > math.MaxInt32 {
			return nil, fmt.Errorf("store.max_conns %d is out of range", maxConns)
		}
		store, err := pgstore.NewDocStore(ctx, pgstore.Config{
			DSN:      a.cfg.Store.DSN,
			MaxConns: int32(maxConns), //nolint:gosec // range checked above
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.addCloser("postgres store", store.Close)
		if a.cfg.Store.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		a.logger.Info("using postgres document store")
		return store, nil
	case config.DriverSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.addCloser("sqlite store", store.Close)
		a.logger.Info("using sqlite document store", zap.String("path", a.cfg.Store.DSN))
		return store, nil
	case config.DriverMemory:
		a.logger.Warn("using in-memory document store; data is lost on exit")
		return memorystorage.NewDocStore(), nil
	default:
		return nil, fmt.Errorf("store.driver %q is not supported", a.cfg.Store.Driver)
	}
}

func (a *App) setupSearch(injected monitor.SearchClient) (monitor.SearchClient, string, error) {
	if injected != nil {
		return injected, "search", nil
	}
	client, err := rapidapi.New(rapidapi.Config{
		URL:         a.cfg.Search.URL,
		Host:        a.cfg.Search.Host,
		APIKey:      a.cfg.Search.APIKey,
		Section:     a.cfg.Search.Section,
		StartDate:   a.cfg.Search.StartDate,
		Language:    a.cfg.Search.Language,
		MinRetweets: a.cfg.Search.MinRetweets,
		MinLikes:    a.cfg.Search.MinLikes,
		PageSize:    a.cfg.Search.PageSize,
		Timeout:     a.cfg.SearchTimeout(),
	}, rapidapi.WithLogger(a.logger.Named("search")))
	if err != nil {
		return nil, "", fmt.Errorf("search client init failed: %w", err)
	}
	return client, client.Host(), nil
}

func (a *App) setupClassifier(injected monitor.Classifier) (monitor.Classifier, error) {
	if injected != nil {
		return injected, nil
	}
	temperature := a.cfg.Classifier.Temperature
	c, err := openai.New(openai.Config{
		APIKey:      a.cfg.Classifier.APIKey,
		BaseURL:     a.cfg.Classifier.BaseURL,
		Model:       a.cfg.Classifier.Model,
		Temperature: &temperature,
		Platform:    a.cfg.Classifier.Platform,
		Timeout:     a.cfg.ClassifierTimeout(),
		Logger:      a.logger.Named("classifier"),
	})
	if err != nil {
		return nil, fmt.Errorf("classifier init failed: %w", err)
	}
	return c, nil
}

func (a *App) setupArchive(ctx context.Context, injected monitor.BlobStore) (monitor.BlobStore, error) {
	if injected != nil {
		return injected, nil
	}
	switch a.cfg.Archive.Provider {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:   a.cfg.Archive.GCSBucket,
			Metadata: map[string]string{"service": "govwatch"},
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.addCloser("gcs archive", blobs.Close)
		a.logger.Info("archiving raw pages to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving raw pages locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case config.ArchiveMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("raw page archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context, injected monitor.Publisher) (monitor.Publisher, error) {
	if injected != nil {
		return injected, nil
	}
	if !a.cfg.PubSub.Enabled {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub publisher", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Store returns the document store.
func (a *App) Store() monitor.DocumentStore {
	return a.store
}

// Taxonomy returns the loaded taxonomy.
func (a *App) Taxonomy() *taxonomy.Taxonomy {
	return a.taxonomy
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce performs a single ingest-then-classify run.
func (a *App) RunOnce(ctx context.Context) (monitor.RunSummary, error) {
	summary, err := a.task.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("run %s: %w", summary.RunID, err)
	}
	return summary, nil
}

// Ingest performs a taxonomy sweep without classifying.
func (a *App) Ingest(ctx context.Context) (monitor.IngestStats, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return monitor.IngestStats{}, fmt.Errorf("generate run id: %w", err)
	}
	stats, err := a.ingestor.Run(ctx, runID)
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	return stats, nil
}

// Classify routes every unclassified raw record without ingesting.
func (a *App) Classify(ctx context.Context) (monitor.RouteStats, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return monitor.RouteStats{}, fmt.Errorf("generate run id: %w", err)
	}
	stats, err := a.router.Run(ctx, runID)
	if err != nil {
		return stats, fmt.Errorf("classify: %w", err)
	}
	return stats, nil
}

// Serve runs the scheduler and, when enabled, the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})

	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Close releases every resource opened by New, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
