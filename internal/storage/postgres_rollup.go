package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habitaq/lead-analytics/internal/models"
)

// PostgresRollupRepo implements RollupRepo using PostgreSQL.
type PostgresRollupRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRollupRepo creates a new PostgreSQL-backed rollup repository.
func NewPostgresRollupRepo(pool *pgxpool.Pool) *PostgresRollupRepo {
	return &PostgresRollupRepo{pool: pool}
}

// rollupSchema creates the analytics_daily table. Channel breakdowns are
// stored as jsonb; the (entity_id, date) pair is the upsert key.
const rollupSchema = `
CREATE TABLE IF NOT EXISTS analytics_daily (
	entity_kind       TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	date              DATE NOT NULL,
	total_views       BIGINT NOT NULL DEFAULT 0,
	unique_views      BIGINT NOT NULL DEFAULT 0,
	logged_in_views   BIGINT NOT NULL DEFAULT 0,
	views_by_channel  JSONB NOT NULL DEFAULT '{}',
	total_impressions BIGINT NOT NULL DEFAULT 0,
	total_leads       BIGINT NOT NULL DEFAULT 0,
	leads_by_channel  JSONB NOT NULL DEFAULT '{}',
	unique_leads      BIGINT NOT NULL DEFAULT 0,
	conversion_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_sales       BIGINT NOT NULL DEFAULT 0,
	sales_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_id, date)
)`

// EnsureSchema creates the rollup table when missing.
func (r *PostgresRollupRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, rollupSchema); err != nil {
		return fmt.Errorf("failed to create analytics_daily: %w", err)
	}
	return nil
}

// Upsert writes one rollup row, replacing any prior values for the same
// (entity_id, date) so re-runs converge instead of doubling.
func (r *PostgresRollupRepo) Upsert(ctx context.Context, row *models.AnalyticsRollupRow) error {
	viewsCh, err := json.Marshal(channelMap(row.ViewsByChannel))
	if err != nil {
		return err
	}
	leadsCh, err := json.Marshal(channelMap(row.LeadsByChannel))
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO analytics_daily (
			entity_kind, entity_id, date,
			total_views, unique_views, logged_in_views, views_by_channel,
			total_impressions, total_leads, leads_by_channel, unique_leads,
			conversion_rate, total_sales, sales_value, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (entity_id, date) DO UPDATE SET
			entity_kind       = EXCLUDED.entity_kind,
			total_views       = EXCLUDED.total_views,
			unique_views      = EXCLUDED.unique_views,
			logged_in_views   = EXCLUDED.logged_in_views,
			views_by_channel  = EXCLUDED.views_by_channel,
			total_impressions = EXCLUDED.total_impressions,
			total_leads       = EXCLUDED.total_leads,
			leads_by_channel  = EXCLUDED.leads_by_channel,
			unique_leads      = EXCLUDED.unique_leads,
			conversion_rate   = EXCLUDED.conversion_rate,
			total_sales       = EXCLUDED.total_sales,
			sales_value       = EXCLUDED.sales_value,
			updated_at        = now()
	`, row.EntityKind, row.EntityID, row.Date,
		row.TotalViews, row.UniqueViews, row.LoggedInViews, viewsCh,
		row.TotalImpressions, row.TotalLeads, leadsCh, row.UniqueLeads,
		row.ConversionRate, row.TotalSales, row.SalesValue)

	if err != nil {
		return fmt.Errorf("failed to upsert rollup row: %w", err)
	}
	return nil
}

// GetRange returns rollup rows for an entity over an inclusive date range.
func (r *PostgresRollupRepo) GetRange(ctx context.Context, entityID string, from, to time.Time) ([]*models.AnalyticsRollupRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_kind, entity_id, date,
		       total_views, unique_views, logged_in_views, views_by_channel,
		       total_impressions, total_leads, leads_by_channel, unique_leads,
		       conversion_rate, total_sales, sales_value, updated_at
		FROM analytics_daily
		WHERE entity_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollup rows: %w", err)
	}
	defer rows.Close()

	var result []*models.AnalyticsRollupRow
	for rows.Next() {
		var row models.AnalyticsRollupRow
		var viewsCh, leadsCh []byte

		if err := rows.Scan(
			&row.EntityKind, &row.EntityID, &row.Date,
			&row.TotalViews, &row.UniqueViews, &row.LoggedInViews, &viewsCh,
			&row.TotalImpressions, &row.TotalLeads, &leadsCh, &row.UniqueLeads,
			&row.ConversionRate, &row.TotalSales, &row.SalesValue, &row.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(viewsCh, &row.ViewsByChannel); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(leadsCh, &row.LeadsByChannel); err != nil {
			return nil, err
		}
		result = append(result, &row)
	}
	return result, rows.Err()
}

func channelMap(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
