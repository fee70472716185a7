package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
	"github.com/JakeFAU/govwatch/internal/report"
	"github.com/JakeFAU/govwatch/internal/scheduler"
)

const (
	defaultLimit   = 100
	maxLimit       = 1000
	defaultTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

var errInvalidLimit = errors.New("limit must be a positive integer")

// RunTracker exposes the most recent run summary.
type RunTracker interface {
	LastSummary() (monitor.RunSummary, bool)
}

// Trigger requests runs and reports scheduler state.
type Trigger interface {
	Trigger() bool
	State() scheduler.State
}

// Config controls server behaviour.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the document store and scheduler.
type Server struct {
	router  chi.Router
	store   monitor.DocumentStore
	runs    RunTracker
	trigger Trigger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs and trigger may
// be nil, in which case the run endpoints answer 503.
func NewServer(
	store monitor.DocumentStore,
	runs RunTracker,
	trigger Trigger,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	s := &Server{
		store:   store,
		runs:    runs,
		trigger: trigger,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/records", s.listRecords)
		r.Get("/issues", s.listIssues)
		r.Get("/summary/distribution", s.distribution)
		r.Get("/summary/daily", s.daily)
		r.Get("/runs/last", s.lastRun)
		r.Post("/runs", s.requestRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.store.Count(ctx, monitor.CollectionRaw); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	body := map[string]string{"status": "ready"}
	if s.trigger != nil {
		body["scheduler"] = string(s.trigger.State())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := report.Filter{Raw: true, Categories: splitList(q["category"])}
	if coll := q.Get("collection"); coll != "" && coll != monitor.CollectionRaw && coll != report.RawLabel {
		p, ok := monitor.PartitionForCollection(coll)
		if !ok {
			var err error
			if p, err = monitor.ParsePartition(coll); err != nil {
				writeError(w, http.StatusBadRequest, "unknown collection "+strconv.Quote(coll))
				return
			}
		}
		f = report.Filter{Partitions: []monitor.Partition{p}, Categories: f.Categories}
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit
	s.writeRows(w, r, f)
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	f, ok := s.issueFilter(w, r)
	if !ok {
		return
	}
	s.writeRows(w, r, f)
}

func (s *Server) writeRows(w http.ResponseWriter, r *http.Request, f report.Filter) {
	rows, err := report.Load(r.Context(), s.store, f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "rows": rows})
}

func (s *Server) distribution(w http.ResponseWriter, r *http.Request) {
	f, ok := s.issueFilter(w, r)
	if !ok {
		return
	}
	rows, err := report.Load(r.Context(), s.store, f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Distribute(rows))
}

func (s *Server) daily(w http.ResponseWriter, r *http.Request) {
	f, ok := s.issueFilter(w, r)
	if !ok {
		return
	}
	rows, err := report.Load(r.Context(), s.store, f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	days := report.DailySummary(rows)
	if days == nil {
		days = []report.DailyRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs not configured")
		return
	}
	summary, ok := s.runs.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) requestRun(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	status := "queued"
	if !s.trigger.Trigger() {
		status = "already_queued"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    status,
		"scheduler": string(s.trigger.State()),
	})
}

func (s *Server) issueFilter(w http.ResponseWriter, r *http.Request) (report.Filter, bool) {
	q := r.URL.Query()
	f := report.Filter{Categories: splitList(q["category"])}
	for _, label := range splitList(q["partition"]) {
		if label == report.RawLabel {
			f.Raw = true
			continue
		}
		p, err := monitor.ParsePartition(label)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return report.Filter{}, false
		}
		f.Partitions = append(f.Partitions, p)
	}
	if f.Raw && len(f.Partitions) > 0 {
		writeError(w, http.StatusBadRequest, "raw cannot be combined with partitions")
		return report.Filter{}, false
	}
	var err error
	if f.From, err = report.ParseDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return report.Filter{}, false
	}
	if f.To, err = report.ParseDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return report.Filter{}, false
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return report.Filter{}, false
	}
	return f, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.logger.Error("store read failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to read records")
}

// splitList accepts both repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
