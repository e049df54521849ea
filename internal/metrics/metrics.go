package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics pipeline.
type Metrics struct {
	// Ingestion metrics
	EventsIngested *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	IngestLatency  *prometheus.HistogramVec

	// Lead merge metrics
	LeadMerges       *prometheus.CounterVec
	DuplicateActions prometheus.Counter
	MergeConflicts   prometheus.Counter

	// Counter store metrics
	StoreFailures *prometheus.CounterVec
	BreakerOpen   prometheus.Gauge

	// Rollup metrics
	RollupRuns           *prometheus.CounterVec
	RollupEntityFailures prometheus.Counter
	RollupDuration       prometheus.Histogram

	// Report metrics
	ReportQueries *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of normalized events accepted",
			},
			[]string{"kind", "entity_kind"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected at the validation boundary",
			},
			[]string{"reason"},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Per-event processing latency on the ingestion path",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"kind"},
		),
		LeadMerges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lead_merges_total",
				Help:      "Lead merge outcomes",
			},
			[]string{"result"},
		),
		DuplicateActions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_actions_total",
				Help:      "Re-delivered actions discarded by the idempotency check",
			},
		),
		MergeConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_conflicts_total",
				Help:      "Optimistic-concurrency conflicts during lead saves",
			},
		),
		StoreFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_failures_total",
				Help:      "Counter/lead store call failures by operation",
			},
			[]string{"op"},
		),
		BreakerOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_breaker_open",
				Help:      "1 while the store circuit breaker is open",
			},
		),
		RollupRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_runs_total",
				Help:      "Rollup job runs by outcome",
			},
			[]string{"status"},
		),
		RollupEntityFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_entity_failures_total",
				Help:      "Per-entity rollup failures (batch continues)",
			},
		),
		RollupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollup_duration_seconds",
				Help:      "Wall time of one rollup run",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		ReportQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_queries_total",
				Help:      "Analytics report queries by report type",
			},
			[]string{"report"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The Record helpers are nil-safe so call sites don't have to guard.

func (m *Metrics) RecordIngested(kind, entityKind string) {
	if m != nil {
		m.EventsIngested.WithLabelValues(kind, entityKind).Inc()
	}
}

func (m *Metrics) RecordRejected(reason string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordIngestLatency(kind string, d time.Duration) {
	if m != nil {
		m.IngestLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordMerge(result string) {
	if m != nil {
		m.LeadMerges.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RecordDuplicate() {
	if m != nil {
		m.DuplicateActions.Inc()
	}
}

func (m *Metrics) RecordConflict() {
	if m != nil {
		m.MergeConflicts.Inc()
	}
}

func (m *Metrics) RecordStoreFailure(op string) {
	if m != nil {
		m.StoreFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}

func (m *Metrics) RecordRollup(status string, d time.Duration) {
	if m != nil {
		m.RollupRuns.WithLabelValues(status).Inc()
		m.RollupDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordRollupEntityFailure() {
	if m != nil {
		m.RollupEntityFailures.Inc()
	}
}

func (m *Metrics) RecordReportQuery(report string) {
	if m != nil {
		m.ReportQueries.WithLabelValues(report).Inc()
	}
}
