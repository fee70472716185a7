// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchRequestsTotal        *prometheus.CounterVec
	searchRequestDuration      prometheus.Histogram
	recordsIngestedTotal       *prometheus.CounterVec
	duplicatesTotal            prometheus.Counter
	keywordStopsTotal          *prometheus.CounterVec
	classificationsTotal       *prometheus.CounterVec
	classificationErrorsTotal  *prometheus.CounterVec
	classifierDuration         prometheus.Histogram
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	schedulerRunning           prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	archiveFailuresTotal       prometheus.Counter
	publishFailuresTotal       prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_search_requests_total",
				Help: "Total search provider calls, labeled by outcome.",
			},
			[]string{"status"},
		)

		searchRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "govwatch_search_request_duration_seconds",
				Help:    "Latency of search provider calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		recordsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_records_ingested_total",
				Help: "Records newly inserted into the raw store, labeled by category.",
			},
			[]string{"category"},
		)

		duplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "govwatch_records_duplicate_total",
				Help: "Fetched records skipped because their identifier was already stored.",
			},
		)

		keywordStopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_keyword_stops_total",
				Help: "Keyword pagination sessions ended, labeled by stop reason.",
			},
			[]string{"reason"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_classifications_total",
				Help: "Records written to a partition, labeled by partition.",
			},
			[]string{"partition"},
		)

		classificationErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_classification_errors_total",
				Help: "Per-item classification failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		classifierDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "govwatch_classifier_request_duration_seconds",
				Help:    "Latency of classification provider calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_runs_total",
				Help: "Scheduled runs completed, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "govwatch_run_duration_seconds",
				Help:    "Wall-clock duration of ingest+classify runs.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
			},
		)

		schedulerRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "govwatch_scheduler_running",
				Help: "1 while a run is in progress, 0 when idle.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govwatch_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		archiveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "govwatch_archive_failures_total",
				Help: "Raw search pages that could not be archived.",
			},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "govwatch_publish_failures_total",
				Help: "Run summaries that could not be published.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSearchRequest records one search provider call.
func ObserveSearchRequest(status string, duration time.Duration) {
	Init()
	searchRequestsTotal.WithLabelValues(status).Inc()
	searchRequestDuration.Observe(duration.Seconds())
}

// ObserveIngested adds newly inserted records for a category.
func ObserveIngested(category string, n int) {
	Init()
	if n > 0 {
		recordsIngestedTotal.WithLabelValues(category).Add(float64(n))
	}
}

// ObserveDuplicates adds fetched records that were already stored.
func ObserveDuplicates(n int) {
	Init()
	if n > 0 {
		duplicatesTotal.Add(float64(n))
	}
}

// ObserveKeywordStop counts a finished keyword session.
func ObserveKeywordStop(reason string) {
	Init()
	keywordStopsTotal.WithLabelValues(reason).Inc()
}

// ObserveClassification counts a record written to a partition.
func ObserveClassification(partition string) {
	Init()
	classificationsTotal.WithLabelValues(partition).Inc()
}

// ObserveClassificationError counts a per-item classification failure.
func ObserveClassificationError(kind string) {
	Init()
	classificationErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveClassifierLatency records one classification provider call.
func ObserveClassifierLatency(duration time.Duration) {
	Init()
	classifierDuration.Observe(duration.Seconds())
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// SetSchedulerRunning flips the scheduler state gauge.
func SetSchedulerRunning(running bool) {
	Init()
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveArchiveFailure counts a raw page that could not be archived.
func ObserveArchiveFailure() {
	Init()
	archiveFailuresTotal.Inc()
}

// ObservePublishFailure counts a run summary that could not be published.
func ObservePublishFailure() {
	Init()
	publishFailuresTotal.Inc()
}
