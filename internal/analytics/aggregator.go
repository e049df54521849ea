package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/store"
)

// Metric names under the counter key scheme. The rollup reads these back.
const (
	MetricTotalViews       = "total_views"
	MetricLoggedInViews    = "logged_in_views"
	MetricTotalImpressions = "total_impressions"
	MetricTotalLeads       = "total_leads"
	MetricTotalSales       = "total_sales"
	MetricSalesValue       = "sales_value"
	MetricViews            = "views" // sketch + channel-qualified prefix
	MetricLeads            = "leads" // sketch + channel-qualified prefix
)

// Aggregator fans one normalized event out to the relevant per-day
// counter keys and uniqueness sketches. All writes for one event go out
// as a single pipelined batch. Counters are approximate load indicators:
// a retried event may over-count, and that is accepted here (the lead
// merger, not the aggregator, owns exactly-once semantics).
type Aggregator struct {
	counters store.CounterStore
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAggregator creates a counter aggregator writing through the given
// counter store.
func NewAggregator(counters store.CounterStore, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		counters: counters,
		ttl:      ttl,
		metrics:  m,
		logger:   logger,
	}
}

// Record applies all counter writes for one event. On store failure the
// event is dropped from the fast path with a logged warning; the caller
// never blocks on counters.
func (a *Aggregator) Record(ctx context.Context, ev *models.NormalizedEvent) error {
	day := ev.Day()
	batch := store.CounterBatch{TTL: a.ttl}

	key := func(metric string) string {
		return store.CounterKey(ev.EntityKind, ev.EntityID, day, metric)
	}

	switch {
	case ev.Kind == models.EventListingView:
		batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricTotalViews), Delta: 1})
		if !ev.Anonymous() {
			batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricLoggedInViews), Delta: 1})
		}
		if ch := ev.Metadata["viewed_from"]; ch != "" {
			batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricViews + "_" + ch), Delta: 1})
		}
		batch.Sketches = append(batch.Sketches, store.SketchAdd{
			Key:    store.SketchKey(ev.EntityKind, ev.EntityID, day, MetricViews),
			Member: sketchMember(ev),
		})

	case ev.Kind == models.EventImpression:
		batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricTotalImpressions), Delta: 1})

	case ev.Kind.IsContactIntent():
		batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricTotalLeads), Delta: 1})
		if ev.Channel != "" {
			batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricLeads + "_" + string(ev.Channel)), Delta: 1})
		}
		batch.Sketches = append(batch.Sketches, store.SketchAdd{
			Key:    store.SketchKey(ev.EntityKind, ev.EntityID, day, MetricLeads),
			Member: sketchMember(ev),
		})

	case ev.Kind == models.EventSale:
		batch.Incrs = append(batch.Incrs, store.Incr{Key: key(MetricTotalSales), Delta: 1})
		if v := saleValue(ev); v > 0 {
			batch.FloatIncrs = append(batch.FloatIncrs, store.FloatIncr{Key: key(MetricSalesValue), Delta: v})
		}
	}

	if batch.Empty() {
		return nil
	}

	// Day index lets the rollup discover touched entities without a
	// keyspace scan.
	batch.Sets = append(batch.Sets, store.SetAdd{
		Key:    store.EntityIndexKey(day),
		Member: fmt.Sprintf("%s:%s", ev.EntityKind, ev.EntityID),
	})

	if err := a.counters.Apply(ctx, batch); err != nil {
		a.metrics.RecordStoreFailure("counter_apply")
		a.logger.Warn("counters not updated",
			zap.String("entity_id", ev.EntityID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// sketchMember returns the uniqueness-sketch member for the acting user:
// the seeker id, a session-scoped synthetic id, or a one-off id when the
// payload carries neither.
func sketchMember(ev *models.NormalizedEvent) string {
	if ev.SeekerID != "" {
		return ev.SeekerID
	}
	if sid := ev.Metadata["session_id"]; sid != "" {
		return "anon:" + sid
	}
	return "anon:" + uuid.New().String()
}

func saleValue(ev *models.NormalizedEvent) float64 {
	raw := ev.Metadata["sale_value"]
	if raw == "" {
		return 0
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%f", &v); err != nil {
		return 0
	}
	return v
}
