package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/models"
	"github.com/habitaq/lead-analytics/internal/store"
)

// ErrMergeConflict is returned when a merge keeps losing the optimistic-
// concurrency race past the configured attempt limit. It fails that one
// event only; the ingestion batch continues.
var ErrMergeConflict = errors.New("lead merge conflict: retries exhausted")

// Merger owns all lead mutation. For every contact-intent event it loads
// or creates the lead keyed by (listing, seeker), appends the action
// exactly once, evaluates the status-transition table and writes the lead
// back under optimistic concurrency.
type Merger struct {
	leads       store.LeadStore
	counters    store.CounterStore
	maxAttempts int
	dedupWindow time.Duration
	counterTTL  time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewMerger creates a lead merger. maxAttempts bounds optimistic-lock
// retries; dedupWindow is the fingerprint granularity for events without
// an upstream idempotency token.
func NewMerger(leads store.LeadStore, counters store.CounterStore, maxAttempts int, dedupWindow, counterTTL time.Duration, m *metrics.Metrics, logger *zap.Logger) *Merger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Merger{
		leads:       leads,
		counters:    counters,
		maxAttempts: maxAttempts,
		dedupWindow: dedupWindow,
		counterTTL:  counterTTL,
		metrics:     m,
		logger:      logger,
	}
}

// Merge applies one lead action event. It returns the updated lead; a
// re-delivered action is a silent no-op returning the existing lead.
func (m *Merger) Merge(ctx context.Context, ev *models.NormalizedEvent) (*models.Lead, error) {
	if !ev.Kind.IsLeadAction() {
		return nil, fmt.Errorf("event kind %s is not a lead action", ev.Kind)
	}

	seekerID, anonymous := m.seekerKey(ev)
	action := m.buildAction(ev)

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		lead, err := m.leads.Get(ctx, ev.EntityID, seekerID)
		if err != nil {
			m.metrics.RecordMerge("store_error")
			return nil, err
		}
		if lead == nil {
			lead = models.NewLead(ev.EntityID, seekerID, ev, anonymous)
		}

		// The one place exactly-once semantics are enforced.
		if lead.HasAction(action.ID) {
			m.metrics.RecordDuplicate()
			m.logger.Debug("duplicate action discarded",
				zap.String("lead", lead.Key()),
				zap.String("action_id", action.ID),
			)
			return lead, nil
		}

		lead.Append(action)

		if next, fired := NextStatus(lead.Status, action.Type); fired {
			lead.Status = next
		} else if !action.Type.IsContactIntent() && !lead.Status.Terminal() {
			// A signal that fired no rule is logged, never applied.
			m.logger.Info("status transition not applicable",
				zap.String("lead", lead.Key()),
				zap.String("status", string(lead.Status)),
				zap.String("action", string(action.Type)),
			)
		}

		err = m.leads.Save(ctx, lead)
		if errors.Is(err, store.ErrVersionConflict) {
			m.metrics.RecordConflict()
			continue
		}
		if err != nil {
			m.metrics.RecordMerge("store_error")
			return nil, err
		}

		m.indexTouched(ctx, lead, ev.Day())
		m.metrics.RecordMerge("ok")
		return lead, nil
	}

	m.metrics.RecordMerge("conflict")
	return nil, ErrMergeConflict
}

// seekerKey resolves the seeker side of the lead key, synthesizing a
// session-scoped anonymous key when the event carries no seeker.
func (m *Merger) seekerKey(ev *models.NormalizedEvent) (string, bool) {
	if ev.SeekerID != "" {
		return ev.SeekerID, false
	}
	if sid := ev.Metadata["session_id"]; sid != "" {
		return "anon:" + sid, true
	}
	return "anon:" + uuid.New().String(), true
}

// buildAction constructs the typed action for an event, including its
// idempotency id and the per-channel metadata variant.
func (m *Merger) buildAction(ev *models.NormalizedEvent) models.Action {
	return models.Action{
		ID:        m.actionID(ev),
		Type:      ev.Kind,
		Timestamp: ev.Timestamp.UTC(),
		Channel:   ev.Channel,
		Metadata:  actionMetadata(ev),
	}
}

// actionID prefers the upstream idempotency token; otherwise it
// fingerprints the action content, with the timestamp truncated to the
// dedup window so a retried delivery lands on the same id.
func (m *Merger) actionID(ev *models.NormalizedEvent) string {
	if ev.IdempotencyKey != "" {
		return ev.IdempotencyKey
	}

	h := sha256.New()
	h.Write([]byte(ev.Kind))
	ts := ev.Timestamp.UTC()
	if m.dedupWindow > 0 {
		ts = ts.Truncate(m.dedupWindow)
	}
	h.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))

	keys := make([]string, 0, len(ev.Metadata))
	for k := range ev.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(ev.Metadata[k]))
	}

	return hex.EncodeToString(h.Sum(nil))[:32]
}

// indexTouched records the lead in the day index the rollup scans.
// Failure here only delays the durable flush, so it is logged, not fatal.
func (m *Merger) indexTouched(ctx context.Context, lead *models.Lead, day string) {
	batch := store.CounterBatch{
		TTL: m.counterTTL,
		Sets: []store.SetAdd{{
			Key:    store.LeadIndexKey(day),
			Member: lead.Key(),
		}},
	}
	if err := m.counters.Apply(ctx, batch); err != nil {
		m.metrics.RecordStoreFailure("lead_index")
		m.logger.Warn("lead day index not updated",
			zap.String("lead", lead.Key()),
			zap.Error(err),
		)
	}
}

// actionMetadata builds the tagged metadata variant for the event kind.
// Malformed payloads degrade to an empty variant instead of leaking an
// open-ended map into the action log.
func actionMetadata(ev *models.NormalizedEvent) models.ActionMetadata {
	md := models.ActionMetadata{Kind: string(ev.Kind)}

	switch ev.Kind {
	case models.EventPhoneReveal, models.EventWhatsAppClick:
		md.Phone = &models.PhoneMetadata{Number: ev.Metadata["phone_number"]}
	case models.EventMessageSent, models.EventEmailSent:
		length, _ := strconv.Atoi(ev.Metadata["message_length"])
		md.Message = &models.MessageMetadata{
			Subject: ev.Metadata["message_subject"],
			Length:  length,
		}
	case models.EventAppointmentRequest:
		appt := &models.AppointmentMetadata{}
		if raw := ev.Metadata["appointment_at"]; raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				appt.ScheduledFor = t.UTC()
			}
		}
		md.Appointment = appt
	case models.EventWebsiteClick:
		md.Website = &models.WebsiteMetadata{URL: ev.Metadata["url"]}
	case models.EventLeadClosed, models.EventSale:
		sale := &models.SaleMetadata{Currency: ev.Metadata["sale_currency"]}
		if raw := ev.Metadata["sale_value"]; raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				sale.Value = v
			}
		}
		md.Sale = sale
	case models.EventListerReply, models.EventLeadLost:
		md.Note = &models.NoteMetadata{Text: ev.Metadata["note"]}
	}

	return md
}
