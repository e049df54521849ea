package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/analytics"
	"github.com/habitaq/lead-analytics/internal/config"
	"github.com/habitaq/lead-analytics/internal/database"
	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/storage"
	"github.com/habitaq/lead-analytics/internal/store"
)

// Dependencies holds the external resources a Server needs. Nil DB or
// Redis falls back to in-memory stores, which keeps local development and
// tests free of infrastructure.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Archive storage.EventArchive
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server is the HTTP surface of the analytics pipeline: event ingestion,
// rollup control and the report endpoints.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	aggregator *analytics.Aggregator
	merger     *analytics.Merger
	rollup     *analytics.RollupJob
	reports    *analytics.Engine
	archive    storage.EventArchive

	deps Dependencies
	mux  *http.ServeMux
}

// NewServer wires the full pipeline from its dependencies.
func NewServer(deps Dependencies) *Server {
	cfg := deps.Config

	var counters store.CounterStore
	var leads store.LeadStore
	if deps.Redis != nil {
		breaker := store.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown)
		breaker.OnStateChange(deps.Metrics.SetBreakerOpen)
		counters = store.NewRedisCounterStore(deps.Redis.Client, breaker, cfg.Redis.OpTimeout, deps.Logger)
		leads = store.NewRedisLeadStore(deps.Redis.Client, breaker, cfg.Redis.OpTimeout, cfg.Merge.LeadTTL, deps.Logger)
	} else {
		deps.Logger.Warn("redis not configured, using in-memory counter and lead stores")
		counters = store.NewMemoryCounterStore()
		leads = store.NewMemoryLeadStore()
	}

	var rollups storage.RollupRepo
	var durable storage.LeadRepo
	if deps.DB != nil {
		rollups = storage.NewPostgresRollupRepo(deps.DB.Pool)
		durable = storage.NewPostgresLeadRepo(deps.DB.Pool)
	} else {
		deps.Logger.Warn("database not configured, using in-memory repositories")
		rollups = storage.NewMemoryRollupRepo()
		durable = storage.NewMemoryLeadRepo()
	}

	s := &Server{
		cfg:     cfg,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		aggregator: analytics.NewAggregator(
			counters, cfg.Rollup.CounterTTL, deps.Metrics, deps.Logger,
		),
		merger: analytics.NewMerger(
			leads, counters, cfg.Merge.MaxAttempts, cfg.Merge.DedupWindow,
			cfg.Rollup.CounterTTL, deps.Metrics, deps.Logger,
		),
		rollup: analytics.NewRollupJob(
			counters, leads, rollups, durable,
			cfg.Rollup.InactivityWindow, cfg.Rollup.FlushClears,
			deps.Metrics, deps.Logger,
		),
		reports: analytics.NewEngine(
			durable, cfg.Reports.HighValueScore, deps.Metrics, deps.Logger,
		),
		archive: deps.Archive,
		deps:    deps,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ingest/events", s.handleIngest)
	s.mux.HandleFunc("/rollup/run", s.handleRollupRun)
	s.mux.HandleFunc("/reports/channels", s.handleChannels)
	s.mux.HandleFunc("/reports/funnel", s.handleFunnel)
	s.mux.HandleFunc("/reports/temporal", s.handleTemporal)
	s.mux.HandleFunc("/reports/efficiency", s.handleEfficiency)
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		s.mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}
}

// Handler returns the router for middleware wrapping.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// RollupJob exposes the rollup for the background scheduler.
func (s *Server) RollupJob() *analytics.RollupJob {
	return s.rollup
}

// ===========================================
// INGESTION
// ===========================================

// ingestError describes one rejected event inside an accepted batch.
type ingestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []ingestError `json:"errors,omitempty"`
}

// handleIngest accepts a batch of raw upstream events. The batch as a
// whole fails only on malformed JSON; individual events are validated and
// rejected independently, so one bad event never blocks its neighbors.
// Re-delivered batches are safe: counters may over-count, leads never
// duplicate.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var raws []analytics.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp := ingestResponse{}
	var archived []*models.NormalizedEvent

	for i, raw := range raws {
		started := time.Now()

		ev, err := analytics.Normalize(raw)
		if err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, ingestError{Index: i, Error: err.Error()})
			s.metrics.RecordRejected(rejectReason(err))
			continue
		}

		// Counter failures are fail-soft: the event still merges.
		_ = s.aggregator.Record(r.Context(), ev)

		if ev.Kind.IsLeadAction() {
			if _, err := s.merger.Merge(r.Context(), ev); err != nil {
				resp.Rejected++
				resp.Errors = append(resp.Errors, ingestError{Index: i, Error: err.Error()})
				continue
			}
		}

		resp.Accepted++
		archived = append(archived, ev)
		s.metrics.RecordIngested(string(ev.Kind), string(ev.EntityKind))
		s.metrics.RecordIngestLatency(string(ev.Kind), time.Since(started))
	}

	// The archive sits off the hot path; a failed write loses nothing the
	// pipeline needs.
	if s.archive != nil && len(archived) > 0 {
		if err := s.archive.Archive(r.Context(), archived); err != nil {
			s.logger.Warn("event archive write failed",
				zap.Int("events", len(archived)),
				zap.Error(err),
			)
		}
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

func rejectReason(err error) string {
	switch err {
	case models.ErrMissingEntityID:
		return "missing_entity_id"
	case models.ErrMissingListerID:
		return "missing_lister_id"
	case models.ErrMissingTimestamp:
		return "missing_timestamp"
	}
	if _, ok := err.(*models.ValidationError); ok {
		return "invalid_field"
	}
	return "other"
}

// ===========================================
// ROLLUP
// ===========================================

// handleRollupRun triggers one rollup on demand, scoped by the request
// body. Used for backfills and targeted re-runs.
func (s *Server) handleRollupRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Date      string   `json:"date"`
		EntityIDs []string `json:"entity_ids,omitempty"`
		TenantIDs []string `json:"tenant_ids,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date := time.Now().UTC()
	if body.Date != "" {
		parsed, err := time.Parse("2006-01-02", body.Date)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	summary, err := s.rollup.Run(r.Context(), analytics.RollupRequest{
		Date:      date,
		EntityIDs: body.EntityIDs,
		TenantIDs: body.TenantIDs,
	})
	if err != nil {
		s.logger.Error("rollup run failed", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "rollup failed")
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// ===========================================
// REPORTS
// ===========================================

func (s *Server) reportParams(r *http.Request) (analytics.ReportParams, bool) {
	q := r.URL.Query()
	p := analytics.ReportParams{
		ListerID:   q.Get("tenant_id"),
		ListerType: models.ListerType(q.Get("tenant_type")),
		Channel:    models.Channel(q.Get("channel")),
	}

	var err error
	if v := q.Get("date_from"); v != "" {
		if p.From, err = time.Parse("2006-01-02", v); err != nil {
			return p, false
		}
	}
	if v := q.Get("date_to"); v != "" {
		if p.To, err = time.Parse("2006-01-02", v); err != nil {
			return p, false
		}
		// Inclusive end of day.
		p.To = p.To.Add(24*time.Hour - time.Nanosecond)
	}
	return p, true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, run func(context.Context, analytics.ReportParams) (interface{}, error)) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p, ok := s.reportParams(r)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}

	result, err := run(r.Context(), p)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, p analytics.ReportParams) (interface{}, error) {
		return s.reports.ChannelPerformance(ctx, p)
	})
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, p analytics.ReportParams) (interface{}, error) {
		return s.reports.Funnel(ctx, p)
	})
}

func (s *Server) handleTemporal(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, p analytics.ReportParams) (interface{}, error) {
		return s.reports.Temporal(ctx, p)
	})
}

func (s *Server) handleEfficiency(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, p analytics.ReportParams) (interface{}, error) {
		return s.reports.Efficiency(ctx, p)
	})
}

// ===========================================
// HEALTH
// ===========================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.deps.DB != nil {
		if err := s.deps.DB.Health(ctx); err != nil {
			status["database"] = "unhealthy"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Health(ctx); err != nil {
			status["redis"] = "unhealthy"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}

	s.jsonResponse(w, code, status)
}

// ===========================================
// RESPONSE HELPERS
// ===========================================

func (s *Server) jsonResponse(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.jsonResponse(w, code, map[string]string{"error": message})
}
