package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/storage"
	"github.com/habitaq/lead-analytics/internal/store"
)

// RollupJob flushes a day's ephemeral counters and lead working copies to
// durable storage. Runs are idempotent: the rollup reads current totals and
// upserts, so re-running a day converges instead of doubling.
type RollupJob struct {
	counters store.CounterStore
	leads    store.LeadStore
	rollups  storage.RollupRepo
	durable  storage.LeadRepo

	inactivity  time.Duration
	flushClears bool

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRollupJob wires a rollup job over the counter store and lead stores.
func NewRollupJob(
	counters store.CounterStore,
	leads store.LeadStore,
	rollups storage.RollupRepo,
	durable storage.LeadRepo,
	inactivity time.Duration,
	flushClears bool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RollupJob {
	return &RollupJob{
		counters:    counters,
		leads:       leads,
		rollups:     rollups,
		durable:     durable,
		inactivity:  inactivity,
		flushClears: flushClears,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// RollupRequest scopes one run. An empty EntityIDs rolls every entity the
// day index saw; an empty TenantIDs flushes every touched lead.
type RollupRequest struct {
	Date      time.Time `json:"date"`
	EntityIDs []string  `json:"entity_ids,omitempty"`
	TenantIDs []string  `json:"tenant_ids,omitempty"`
}

// EntityError records one failed entity inside an otherwise successful run.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// RollupSummary reports what one run accomplished. A run with entity
// failures is partial, not failed: one bad entity never poisons the batch.
type RollupSummary struct {
	Date            string        `json:"date"`
	EntitiesRolled  int           `json:"entities_rolled"`
	EntityFailures  []EntityError `json:"entity_failures,omitempty"`
	LeadsFlushed    int           `json:"leads_flushed"`
	LeadsMarkedCold int           `json:"leads_marked_cold"`
	LeadFailures    []EntityError `json:"lead_failures,omitempty"`
}

// Run executes one rollup for the requested day.
func (j *RollupJob) Run(ctx context.Context, req RollupRequest) (*RollupSummary, error) {
	started := j.now()
	day := req.Date.UTC().Format("2006-01-02")
	summary := &RollupSummary{Date: day}

	var flushed []string

	members, err := j.counters.Members(ctx, store.EntityIndexKey(day))
	if err != nil {
		j.metrics.RecordRollup("failed", j.now().Sub(started))
		return nil, fmt.Errorf("failed to read entity day index: %w", err)
	}

	only := idSet(req.EntityIDs)
	for _, member := range members {
		kind, entityID, ok := splitIndexMember(member)
		if !ok {
			continue
		}
		if len(only) > 0 && !only[entityID] {
			continue
		}

		keys, err := j.rollupEntity(ctx, models.EntityKind(kind), entityID, req.Date.UTC())
		if err != nil {
			j.metrics.RecordRollupEntityFailure()
			j.logger.Warn("entity rollup failed",
				zap.String("entity_id", entityID),
				zap.String("day", day),
				zap.Error(err),
			)
			summary.EntityFailures = append(summary.EntityFailures, EntityError{EntityID: entityID, Error: err.Error()})
			continue
		}
		summary.EntitiesRolled++
		flushed = append(flushed, keys...)
	}

	j.flushLeads(ctx, req, day, summary)

	if j.flushClears && len(req.EntityIDs) == 0 && len(req.TenantIDs) == 0 &&
		len(summary.EntityFailures) == 0 && len(summary.LeadFailures) == 0 {
		flushed = append(flushed, store.EntityIndexKey(day), store.LeadIndexKey(day))
		if err := j.counters.Delete(ctx, flushed...); err != nil {
			j.logger.Warn("flushed counters not cleared", zap.String("day", day), zap.Error(err))
		}
	}

	status := "ok"
	if len(summary.EntityFailures) > 0 || len(summary.LeadFailures) > 0 {
		status = "partial"
	}
	j.metrics.RecordRollup(status, j.now().Sub(started))

	j.logger.Info("rollup run complete",
		zap.String("day", day),
		zap.Int("entities", summary.EntitiesRolled),
		zap.Int("entity_failures", len(summary.EntityFailures)),
		zap.Int("leads_flushed", summary.LeadsFlushed),
		zap.Int("leads_cold", summary.LeadsMarkedCold),
	)
	return summary, nil
}

// rollupEntity reads every counter and sketch for one entity-day and upserts
// the durable row. Returns the keys it read so a clearing run can delete them.
func (j *RollupJob) rollupEntity(ctx context.Context, kind models.EntityKind, entityID string, date time.Time) ([]string, error) {
	day := date.Format("2006-01-02")
	key := func(metric string) string {
		return store.CounterKey(kind, entityID, day, metric)
	}

	var keys []string
	count := func(metric string) (int64, error) {
		k := key(metric)
		keys = append(keys, k)
		return j.counters.GetCount(ctx, k)
	}

	row := &models.AnalyticsRollupRow{
		EntityKind:     kind,
		EntityID:       entityID,
		Date:           date,
		ViewsByChannel: map[string]int64{},
		LeadsByChannel: map[string]int64{},
		UpdatedAt:      j.now().UTC(),
	}

	var err error
	if row.TotalViews, err = count(MetricTotalViews); err != nil {
		return nil, err
	}
	if row.LoggedInViews, err = count(MetricLoggedInViews); err != nil {
		return nil, err
	}
	if row.TotalImpressions, err = count(MetricTotalImpressions); err != nil {
		return nil, err
	}
	if row.TotalLeads, err = count(MetricTotalLeads); err != nil {
		return nil, err
	}
	if row.TotalSales, err = count(MetricTotalSales); err != nil {
		return nil, err
	}

	salesKey := key(MetricSalesValue)
	keys = append(keys, salesKey)
	if row.SalesValue, err = j.counters.GetFloat(ctx, salesKey); err != nil {
		return nil, err
	}

	for _, ch := range models.Channels {
		views, err := count(MetricViews + "_" + string(ch))
		if err != nil {
			return nil, err
		}
		if views > 0 {
			row.ViewsByChannel[string(ch)] = views
		}
		leads, err := count(MetricLeads + "_" + string(ch))
		if err != nil {
			return nil, err
		}
		if leads > 0 {
			row.LeadsByChannel[string(ch)] = leads
		}
	}

	viewsSketch := store.SketchKey(kind, entityID, day, MetricViews)
	leadsSketch := store.SketchKey(kind, entityID, day, MetricLeads)
	keys = append(keys, viewsSketch, leadsSketch)
	if row.UniqueViews, err = j.counters.Estimate(ctx, viewsSketch); err != nil {
		return nil, err
	}
	if row.UniqueLeads, err = j.counters.Estimate(ctx, leadsSketch); err != nil {
		return nil, err
	}

	row.ConversionRate = models.ConversionRate(row.TotalLeads, row.TotalViews)

	if err := j.rollups.Upsert(ctx, row); err != nil {
		return nil, err
	}
	return keys, nil
}

// flushLeads projects the day's touched leads to durable storage, applying
// the inactivity policy along the way. Lead failures are isolated like
// entity failures.
func (j *RollupJob) flushLeads(ctx context.Context, req RollupRequest, day string, summary *RollupSummary) {
	members, err := j.counters.Members(ctx, store.LeadIndexKey(day))
	if err != nil {
		j.logger.Warn("lead day index unreadable", zap.String("day", day), zap.Error(err))
		summary.LeadFailures = append(summary.LeadFailures, EntityError{Error: err.Error()})
		return
	}

	tenants := idSet(req.TenantIDs)
	now := j.now().UTC()

	for _, member := range members {
		listingID, seekerID, ok := splitIndexMember(member)
		if !ok {
			continue
		}

		lead, err := j.leads.Get(ctx, listingID, seekerID)
		if err != nil {
			summary.LeadFailures = append(summary.LeadFailures, EntityError{EntityID: member, Error: err.Error()})
			continue
		}
		if lead == nil {
			continue
		}

		if ApplyInactivity(lead, j.inactivity, now) {
			summary.LeadsMarkedCold++
			// Best effort: a conflicting concurrent merge means the lead
			// is active again, so losing this write is correct.
			if err := j.leads.Save(ctx, lead); err != nil && err != store.ErrVersionConflict {
				j.logger.Warn("cold status not saved",
					zap.String("lead", member),
					zap.Error(err),
				)
			}
		}

		if len(tenants) > 0 && !tenants[lead.ListerID] {
			continue
		}

		if err := j.durable.Upsert(ctx, lead); err != nil {
			summary.LeadFailures = append(summary.LeadFailures, EntityError{EntityID: member, Error: err.Error()})
			continue
		}
		summary.LeadsFlushed++
	}
}

// splitIndexMember splits a day-index member on its first colon. The right
// side may itself contain colons (synthetic seeker ids).
func splitIndexMember(member string) (string, string, bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func idSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
