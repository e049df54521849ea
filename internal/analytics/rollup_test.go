package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/storage"
	"github.com/habitaq/lead-analytics/internal/store"
)

type rollupFixture struct {
	counters *store.MemoryCounterStore
	leads    *store.MemoryLeadStore
	rollups  *storage.MemoryRollupRepo
	durable  *storage.MemoryLeadRepo
	job      *RollupJob
}

func newRollupFixture(t *testing.T, inactivity time.Duration) *rollupFixture {
	t.Helper()
	f := &rollupFixture{
		counters: store.NewMemoryCounterStore(),
		leads:    store.NewMemoryLeadStore(),
		rollups:  storage.NewMemoryRollupRepo(),
		durable:  storage.NewMemoryLeadRepo(),
	}
	f.job = NewRollupJob(f.counters, f.leads, f.rollups, f.durable, inactivity, false, nil, zap.NewNop())
	return f
}

func (f *rollupFixture) ingestDay(t *testing.T, views, leads int) time.Time {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	agg := NewAggregator(f.counters, time.Hour, nil, zap.NewNop())
	for i := 0; i < views; i++ {
		ev := viewEvent("seeker-1")
		ev.Timestamp = day.Add(9 * time.Hour)
		require.NoError(t, agg.Record(ctx, ev))
	}
	for i := 0; i < leads; i++ {
		ev := viewEvent("seeker-1")
		ev.Kind = models.EventPhoneReveal
		ev.Channel = models.ChannelPhone
		ev.Timestamp = day.Add(10 * time.Hour)
		require.NoError(t, agg.Record(ctx, ev))
	}
	return day
}

func TestRollupConversionMath(t *testing.T) {
	f := newRollupFixture(t, 0)
	day := f.ingestDay(t, 50, 5)

	summary, err := f.job.Run(context.Background(), RollupRequest{Date: day})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntitiesRolled)
	assert.Empty(t, summary.EntityFailures)

	rows, err := f.rollups.GetRange(context.Background(), "listing-1", day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, int64(50), row.TotalViews)
	assert.Equal(t, int64(5), row.TotalLeads)
	assert.Equal(t, 10.0, row.ConversionRate)
	assert.Equal(t, int64(5), row.LeadsByChannel["phone"])
	assert.Equal(t, int64(1), row.UniqueViews)
}

func TestRollupZeroViewsUsesFloorDenominator(t *testing.T) {
	f := newRollupFixture(t, 0)
	day := f.ingestDay(t, 0, 3)

	_, err := f.job.Run(context.Background(), RollupRequest{Date: day})
	require.NoError(t, err)

	rows, err := f.rollups.GetRange(context.Background(), "listing-1", day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// leads/max(views,1): 3 leads over a floor of 1 view.
	assert.Equal(t, 300.0, rows[0].ConversionRate)
}

func TestRollupRerunConverges(t *testing.T) {
	f := newRollupFixture(t, 0)
	day := f.ingestDay(t, 10, 2)
	ctx := context.Background()

	_, err := f.job.Run(ctx, RollupRequest{Date: day})
	require.NoError(t, err)
	_, err = f.job.Run(ctx, RollupRequest{Date: day})
	require.NoError(t, err)

	rows, err := f.rollups.GetRange(ctx, "listing-1", day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// Re-running reads current totals and upserts; nothing doubles.
	assert.Equal(t, int64(10), rows[0].TotalViews)
	assert.Equal(t, int64(2), rows[0].TotalLeads)
}

func TestRollupEntityFailureIsolation(t *testing.T) {
	f := newRollupFixture(t, 0)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	agg := NewAggregator(f.counters, time.Hour, nil, zap.NewNop())
	for _, id := range []string{"listing-a", "listing-b", "listing-c"} {
		ev := viewEvent("seeker-1")
		ev.EntityID = id
		ev.Timestamp = day.Add(9 * time.Hour)
		require.NoError(t, agg.Record(ctx, ev))
	}

	// One upsert fails; the run continues and reports it.
	f.rollups.FailNext = 1
	summary, err := f.job.Run(ctx, RollupRequest{Date: day})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.EntitiesRolled)
	assert.Len(t, summary.EntityFailures, 1)
}

func TestRollupFlushesLeadsAndAppliesInactivity(t *testing.T) {
	f := newRollupFixture(t, 14*24*time.Hour)
	ctx := context.Background()

	merger := NewMerger(f.leads, f.counters, 5, 2*time.Minute, time.Hour, nil, zap.NewNop())

	freshAt := time.Now().UTC().Add(-time.Hour)
	fresh := contactEvent(models.EventMessageSent, freshAt, "evt-fresh")
	_, err := merger.Merge(ctx, fresh)
	require.NoError(t, err)

	staleAt := time.Now().UTC().Add(-30 * 24 * time.Hour)
	stale := contactEvent(models.EventMessageSent, staleAt, "evt-stale")
	stale.EntityID = "listing-2"
	_, err = merger.Merge(ctx, stale)
	require.NoError(t, err)

	// Leads are indexed under the day of their event, so each flush runs
	// against its own day.
	summary, err := f.job.Run(ctx, RollupRequest{Date: freshAt})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LeadsFlushed)
	assert.Equal(t, 0, summary.LeadsMarkedCold)

	summary, err = f.job.Run(ctx, RollupRequest{Date: staleAt})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LeadsFlushed)
	assert.Equal(t, 1, summary.LeadsMarkedCold)

	flushed, err := f.durable.GetByKey(ctx, "listing-2", "seeker-1")
	require.NoError(t, err)
	require.NotNil(t, flushed)
	assert.Equal(t, models.StatusColdLead, flushed.Status)

	active, err := f.durable.GetByKey(ctx, "listing-1", "seeker-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.StatusContacted, active.Status)
}

func TestRollupLeadFailureKeepsIndexForRerun(t *testing.T) {
	f := newRollupFixture(t, 0)
	ctx := context.Background()

	// Clearing variant of the job: a clean run deletes the flushed keys
	// and day indexes.
	clearing := NewRollupJob(f.counters, f.leads, f.rollups, f.durable, 0, true, nil, zap.NewNop())

	merger := NewMerger(f.leads, f.counters, 5, 2*time.Minute, time.Hour, nil, zap.NewNop())
	now := time.Now().UTC()
	_, err := merger.Merge(ctx, contactEvent(models.EventMessageSent, now, "evt-1"))
	require.NoError(t, err)
	day := now.Format("2006-01-02")

	// The durable upsert fails, so nothing may be cleared.
	f.durable.FailNext = 1
	summary, err := clearing.Run(ctx, RollupRequest{Date: now})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LeadsFlushed)
	require.Len(t, summary.LeadFailures, 1)

	members, err := f.counters.Members(ctx, store.LeadIndexKey(day))
	require.NoError(t, err)
	require.Equal(t, []string{"listing-1:seeker-1"}, members)

	// The re-run finds the lead again and flushes it, then clears.
	summary, err = clearing.Run(ctx, RollupRequest{Date: now})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LeadsFlushed)
	assert.Empty(t, summary.LeadFailures)

	flushed, err := f.durable.GetByKey(ctx, "listing-1", "seeker-1")
	require.NoError(t, err)
	require.NotNil(t, flushed)

	members, err = f.counters.Members(ctx, store.LeadIndexKey(day))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRollupTenantFilterScopesLeadFlush(t *testing.T) {
	f := newRollupFixture(t, 0)
	ctx := context.Background()

	merger := NewMerger(f.leads, f.counters, 5, 2*time.Minute, time.Hour, nil, zap.NewNop())

	now := time.Now().UTC()
	mine := contactEvent(models.EventMessageSent, now, "evt-1")
	_, err := merger.Merge(ctx, mine)
	require.NoError(t, err)

	other := contactEvent(models.EventMessageSent, now, "evt-2")
	other.EntityID = "listing-2"
	other.ListerID = "agent-2"
	_, err = merger.Merge(ctx, other)
	require.NoError(t, err)

	summary, err := f.job.Run(ctx, RollupRequest{Date: now, TenantIDs: []string{"agent-1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LeadsFlushed)

	flushed, err := f.durable.GetByKey(ctx, "listing-1", "seeker-1")
	require.NoError(t, err)
	assert.NotNil(t, flushed)

	skipped, err := f.durable.GetByKey(ctx, "listing-2", "seeker-1")
	require.NoError(t, err)
	assert.Nil(t, skipped)
}

func TestRollupEntityFilter(t *testing.T) {
	f := newRollupFixture(t, 0)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	agg := NewAggregator(f.counters, time.Hour, nil, zap.NewNop())
	for _, id := range []string{"listing-a", "listing-b"} {
		ev := viewEvent("seeker-1")
		ev.EntityID = id
		ev.Timestamp = day.Add(9 * time.Hour)
		require.NoError(t, agg.Record(ctx, ev))
	}

	summary, err := f.job.Run(ctx, RollupRequest{Date: day, EntityIDs: []string{"listing-a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntitiesRolled)

	rows, err := f.rollups.GetRange(ctx, "listing-b", day, day)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
