package storage

import (
	"context"
	"time"

	"github.com/habitaq/lead-analytics/internal/models"
)

// =============================================
// ROLLUP REPOSITORY
// =============================================

// RollupRepo persists the durable per-day analytics rows. Rows are
// upserted by (entity_id, date) so a re-run of the same window replaces
// values instead of duplicating rows.
type RollupRepo interface {
	Upsert(ctx context.Context, row *models.AnalyticsRollupRow) error
	GetRange(ctx context.Context, entityID string, from, to time.Time) ([]*models.AnalyticsRollupRow, error)
}

// =============================================
// LEAD REPOSITORY
// =============================================

// LeadRepo persists the durable lead projections. The projection is an
// eventually-consistent copy of the working lead; the fast store stays
// authoritative until flushed.
type LeadRepo interface {
	Upsert(ctx context.Context, lead *models.Lead) error
	GetByKey(ctx context.Context, listingID, seekerID string) (*models.Lead, error)
	ListByTenant(ctx context.Context, listerID string, listerType models.ListerType, from, to time.Time) ([]*models.Lead, error)
}

// =============================================
// EVENT ARCHIVE
// =============================================

// EventArchive is the append-only raw-event sink used for offline
// analysis. Archive failures never fail ingestion.
type EventArchive interface {
	Archive(ctx context.Context, events []*models.NormalizedEvent) error
}
