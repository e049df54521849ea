package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/storage"
)

// Engine answers tenant-scoped analytical queries over the durable lead
// projections. Anonymous leads carry no reliable seeker identity, so every
// attribution report excludes them; they still show up in the raw counter
// rollups.
type Engine struct {
	leads     storage.LeadRepo
	highValue float64
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEngine creates a report engine reading from the given lead repository.
func NewEngine(leads storage.LeadRepo, highValueScore float64, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		leads:     leads,
		highValue: highValueScore,
		metrics:   m,
		logger:    logger,
	}
}

// ReportParams scopes one report query to a tenant and date range.
type ReportParams struct {
	ListerID   string
	ListerType models.ListerType
	From       time.Time
	To         time.Time

	// Channel narrows reports to leads whose first action arrived on the
	// given channel. Empty means all channels.
	Channel models.Channel
}

func (p ReportParams) validate() error {
	if p.ListerID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("date_from and date_to are required")
	}
	if p.To.Before(p.From) {
		return fmt.Errorf("date_to precedes date_from")
	}
	return nil
}

// load fetches the tenant's leads and applies the shared report filters.
func (e *Engine) load(ctx context.Context, p ReportParams) ([]*models.Lead, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	all, err := e.leads.ListByTenant(ctx, p.ListerID, p.ListerType, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant leads: %w", err)
	}

	leads := make([]*models.Lead, 0, len(all))
	for _, lead := range all {
		if lead.IsAnonymous {
			continue
		}
		if p.Channel != "" {
			first := lead.FirstAction()
			if first == nil || first.Channel != p.Channel {
				continue
			}
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// ===========================================
// CHANNEL PERFORMANCE
// ===========================================

// ChannelStats aggregates lead outcomes for one acquisition channel.
type ChannelStats struct {
	Channel        models.Channel `json:"channel"`
	Leads          int64          `json:"leads"`
	Closed         int64          `json:"closed"`
	ConversionRate float64        `json:"conversion_rate"`
	AvgScore       float64        `json:"avg_score"`
	HighValueShare float64        `json:"high_value_share"`
}

// ChannelPerformance groups leads by the channel of their first action and
// reports close rates and score quality per channel.
func (e *Engine) ChannelPerformance(ctx context.Context, p ReportParams) ([]ChannelStats, error) {
	e.metrics.RecordReportQuery("channels")
	leads, err := e.load(ctx, p)
	if err != nil {
		return nil, err
	}

	type acc struct {
		leads     int64
		closed    int64
		score     float64
		highValue int64
	}
	byChannel := map[models.Channel]*acc{}

	for _, lead := range leads {
		first := lead.FirstAction()
		if first == nil || first.Channel == "" {
			continue
		}
		a := byChannel[first.Channel]
		if a == nil {
			a = &acc{}
			byChannel[first.Channel] = a
		}
		a.leads++
		if lead.Status == models.StatusClosed {
			a.closed++
		}
		score := LeadScore(lead)
		a.score += score
		if score >= e.highValue {
			a.highValue++
		}
	}

	var stats []ChannelStats
	for _, ch := range models.Channels {
		a := byChannel[ch]
		if a == nil {
			continue
		}
		stats = append(stats, ChannelStats{
			Channel:        ch,
			Leads:          a.leads,
			Closed:         a.closed,
			ConversionRate: models.Round2(ratio(a.closed, a.leads) * 100),
			AvgScore:       models.Round2(a.score / float64(a.leads)),
			HighValueShare: models.Round2(ratio(a.highValue, a.leads) * 100),
		})
	}
	return stats, nil
}

// ===========================================
// FUNNEL
// ===========================================

// FunnelStage reports how many leads entered a lifecycle stage and how many
// advanced out of it to the next observed stage.
type FunnelStage struct {
	From      models.LeadStatus `json:"from"`
	To        models.LeadStatus `json:"to"`
	Entered   int64             `json:"entered"`
	Converted int64             `json:"converted"`
	Rate      float64           `json:"rate"`
}

// funnelOrder fixes the report ordering of lifecycle stages.
var funnelOrder = []models.LeadStatus{
	models.StatusNew, models.StatusContacted, models.StatusResponded,
	models.StatusScheduled, models.StatusClosed,
}

// Funnel replays each lead's status history and reports per-transition
// conversion: of the leads that entered a stage, how many moved through
// each observed outgoing transition.
func (e *Engine) Funnel(ctx context.Context, p ReportParams) ([]FunnelStage, error) {
	e.metrics.RecordReportQuery("funnel")
	leads, err := e.load(ctx, p)
	if err != nil {
		return nil, err
	}

	type pair struct{ from, to models.LeadStatus }
	entered := map[models.LeadStatus]int64{}
	moved := map[pair]int64{}

	for _, lead := range leads {
		history := StatusHistory(lead)
		for i, status := range history {
			entered[status]++
			if i+1 < len(history) {
				moved[pair{status, history[i+1]}]++
			}
		}
	}

	var stages []FunnelStage
	for _, from := range funnelOrder {
		for _, to := range funnelOrder {
			n, ok := moved[pair{from, to}]
			if !ok {
				continue
			}
			stages = append(stages, FunnelStage{
				From:      from,
				To:        to,
				Entered:   entered[from],
				Converted: n,
				Rate:      models.Round2(ratio(n, entered[from]) * 100),
			})
		}
		// Drops to abandoned are part of the funnel picture too.
		if n, ok := moved[pair{from, models.StatusAbandoned}]; ok {
			stages = append(stages, FunnelStage{
				From:      from,
				To:        models.StatusAbandoned,
				Entered:   entered[from],
				Converted: n,
				Rate:      models.Round2(ratio(n, entered[from]) * 100),
			})
		}
	}
	return stages, nil
}

// ===========================================
// TEMPORAL
// ===========================================

// TemporalBucket aggregates lead outcomes for one weekday-hour slot, taken
// from the UTC timestamp of each lead's first action.
type TemporalBucket struct {
	Weekday        string  `json:"weekday"`
	Hour           int     `json:"hour"`
	Leads          int64   `json:"leads"`
	Closed         int64   `json:"closed"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Temporal reports when leads arrive and which arrival slots close best.
// Only slots that saw at least one lead are returned.
func (e *Engine) Temporal(ctx context.Context, p ReportParams) ([]TemporalBucket, error) {
	e.metrics.RecordReportQuery("temporal")
	leads, err := e.load(ctx, p)
	if err != nil {
		return nil, err
	}

	var total [7][24]int64
	var closed [7][24]int64

	for _, lead := range leads {
		first := lead.FirstAction()
		if first == nil {
			continue
		}
		t := first.Timestamp.UTC()
		d, h := int(t.Weekday()), t.Hour()
		total[d][h]++
		if lead.Status == models.StatusClosed {
			closed[d][h]++
		}
	}

	var buckets []TemporalBucket
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			if total[d][h] == 0 {
				continue
			}
			buckets = append(buckets, TemporalBucket{
				Weekday:        time.Weekday(d).String(),
				Hour:           h,
				Leads:          total[d][h],
				Closed:         closed[d][h],
				ConversionRate: models.Round2(ratio(closed[d][h], total[d][h]) * 100),
			})
		}
	}
	return buckets, nil
}

// ===========================================
// EFFICIENCY
// ===========================================

// EfficiencyReport summarizes how fast and how completely a tenant works
// its leads.
type EfficiencyReport struct {
	Leads int64 `json:"leads"`

	// AvgResponseHours is first contact to first lister reply, averaged
	// over leads that received a reply.
	AvgResponseHours float64 `json:"avg_response_hours"`
	// AvgCloseHours is first contact to the closing action, averaged over
	// closed leads.
	AvgCloseHours float64 `json:"avg_close_hours"`

	AbandonedShare float64 `json:"abandoned_share"`
	ColdShare      float64 `json:"cold_share"`

	// ResponseHistogram buckets reply latency: "<1h", "<24h", ">=24h".
	ResponseHistogram map[string]int64 `json:"response_histogram"`
}

// Efficiency reports response and close latency plus drop-off shares for
// one tenant.
func (e *Engine) Efficiency(ctx context.Context, p ReportParams) (*EfficiencyReport, error) {
	e.metrics.RecordReportQuery("efficiency")
	leads, err := e.load(ctx, p)
	if err != nil {
		return nil, err
	}

	report := &EfficiencyReport{
		Leads:             int64(len(leads)),
		ResponseHistogram: map[string]int64{"<1h": 0, "<24h": 0, ">=24h": 0},
	}

	var responseSum, closeSum time.Duration
	var responded, closedCount, abandoned, cold int64

	for _, lead := range leads {
		first := lead.FirstAction()
		if first == nil {
			continue
		}

		if reply := firstOfKind(lead, models.EventListerReply); reply != nil {
			latency := reply.Timestamp.Sub(first.Timestamp)
			if latency >= 0 {
				responded++
				responseSum += latency
				switch {
				case latency < time.Hour:
					report.ResponseHistogram["<1h"]++
				case latency < 24*time.Hour:
					report.ResponseHistogram["<24h"]++
				default:
					report.ResponseHistogram[">=24h"]++
				}
			}
		}

		switch lead.Status {
		case models.StatusClosed:
			if closing := lastClosing(lead); closing != nil {
				d := closing.Timestamp.Sub(first.Timestamp)
				if d >= 0 {
					closedCount++
					closeSum += d
				}
			}
		case models.StatusAbandoned:
			abandoned++
		case models.StatusColdLead:
			cold++
		}
	}

	if responded > 0 {
		report.AvgResponseHours = models.Round2(responseSum.Hours() / float64(responded))
	}
	if closedCount > 0 {
		report.AvgCloseHours = models.Round2(closeSum.Hours() / float64(closedCount))
	}
	report.AbandonedShare = models.Round2(ratio(abandoned, report.Leads) * 100)
	report.ColdShare = models.Round2(ratio(cold, report.Leads) * 100)

	return report, nil
}

// firstOfKind returns the earliest action of the given kind, or nil.
func firstOfKind(lead *models.Lead, kind models.EventKind) *models.Action {
	var found *models.Action
	for i := range lead.Actions {
		a := &lead.Actions[i]
		if a.Type != kind {
			continue
		}
		if found == nil || a.Timestamp.Before(found.Timestamp) {
			found = a
		}
	}
	return found
}

// lastClosing returns the latest closed-won signal on the log, or nil.
func lastClosing(lead *models.Lead) *models.Action {
	var found *models.Action
	for i := range lead.Actions {
		a := &lead.Actions[i]
		if a.Type != models.EventLeadClosed && a.Type != models.EventSale {
			continue
		}
		if found == nil || a.Timestamp.After(found.Timestamp) {
			found = a
		}
	}
	return found
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
