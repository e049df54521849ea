package models

import (
	"math"
	"time"
)

// AnalyticsRollupRow is one durable per-entity, per-day analytics row.
// Rows are upserted by (entity_id, date), never deleted.
type AnalyticsRollupRow struct {
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Date       time.Time  `json:"date"`

	TotalViews     int64            `json:"total_views"`
	UniqueViews    int64            `json:"unique_views"`
	LoggedInViews  int64            `json:"logged_in_views"`
	ViewsByChannel map[string]int64 `json:"views_by_channel,omitempty"`

	TotalImpressions int64 `json:"total_impressions"`

	TotalLeads     int64            `json:"total_leads"`
	LeadsByChannel map[string]int64 `json:"leads_by_channel,omitempty"`
	UniqueLeads    int64            `json:"unique_leads"`

	ConversionRate float64 `json:"conversion_rate"`

	TotalSales int64   `json:"total_sales"`
	SalesValue float64 `json:"sales_value"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ConversionRate computes leads/views as a percentage, 2 decimal places.
// A zero view count reports 0, never an error.
func ConversionRate(leads, views int64) float64 {
	if views < 1 {
		views = 1
	}
	if leads == 0 {
		return 0
	}
	return Round2(float64(leads) / float64(views) * 100)
}

// Round2 rounds to 2 decimal places. All reported percentages go through
// here so bucket math stays comparable across reports.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
