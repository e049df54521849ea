package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitaq/lead-analytics/internal/models"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name    string
		current models.LeadStatus
		action  models.EventKind
		want    models.LeadStatus
		fired   bool
	}{
		{"first contact", models.StatusNew, models.EventPhoneReveal, models.StatusContacted, true},
		{"first contact via message", models.StatusNew, models.EventMessageSent, models.StatusContacted, true},
		{"appointment schedules", models.StatusContacted, models.EventAppointmentRequest, models.StatusScheduled, true},
		{"appointment after reply", models.StatusResponded, models.EventAppointmentRequest, models.StatusScheduled, true},
		{"close from contacted", models.StatusContacted, models.EventLeadClosed, models.StatusClosed, true},
		{"sale closes", models.StatusScheduled, models.EventSale, models.StatusClosed, true},
		{"lost abandons", models.StatusScheduled, models.EventLeadLost, models.StatusAbandoned, true},
		{"reply marks responded", models.StatusContacted, models.EventListerReply, models.StatusResponded, true},
		{"repeat contact is not a transition", models.StatusContacted, models.EventPhoneReveal, models.StatusContacted, false},
		{"reply before contact does nothing", models.StatusNew, models.EventListerReply, models.StatusNew, false},
		{"close from new does nothing", models.StatusNew, models.EventLeadClosed, models.StatusNew, false},
		{"closed is terminal", models.StatusClosed, models.EventPhoneReveal, models.StatusClosed, false},
		{"abandoned is terminal", models.StatusAbandoned, models.EventAppointmentRequest, models.StatusAbandoned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := NextStatus(tt.current, tt.action)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fired, fired)
		})
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	// Once closed, no sequence of further actions moves the status.
	status := models.StatusClosed
	for _, kind := range []models.EventKind{
		models.EventPhoneReveal, models.EventMessageSent, models.EventListerReply,
		models.EventAppointmentRequest, models.EventLeadLost,
	} {
		next, fired := NextStatus(status, kind)
		require.False(t, fired)
		require.Equal(t, models.StatusClosed, next)
	}
}

func TestApplyInactivity(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	window := 14 * 24 * time.Hour

	t.Run("stale lead goes cold", func(t *testing.T) {
		lead := &models.Lead{Status: models.StatusContacted, LastActionAt: now.Add(-15 * 24 * time.Hour)}
		assert.True(t, ApplyInactivity(lead, window, now))
		assert.Equal(t, models.StatusColdLead, lead.Status)
	})

	t.Run("active lead stays", func(t *testing.T) {
		lead := &models.Lead{Status: models.StatusContacted, LastActionAt: now.Add(-24 * time.Hour)}
		assert.False(t, ApplyInactivity(lead, window, now))
		assert.Equal(t, models.StatusContacted, lead.Status)
	})

	t.Run("terminal lead stays", func(t *testing.T) {
		lead := &models.Lead{Status: models.StatusClosed, LastActionAt: now.Add(-60 * 24 * time.Hour)}
		assert.False(t, ApplyInactivity(lead, window, now))
		assert.Equal(t, models.StatusClosed, lead.Status)
	})

	t.Run("already cold is not re-marked", func(t *testing.T) {
		lead := &models.Lead{Status: models.StatusColdLead, LastActionAt: now.Add(-60 * 24 * time.Hour)}
		assert.False(t, ApplyInactivity(lead, window, now))
	})

	t.Run("zero window disables the policy", func(t *testing.T) {
		lead := &models.Lead{Status: models.StatusContacted, LastActionAt: now.Add(-365 * 24 * time.Hour)}
		assert.False(t, ApplyInactivity(lead, 0, now))
	})
}

func TestStatusHistoryReplaysInEventTimeOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lead := &models.Lead{Status: models.StatusClosed}

	// Appended out of order: the close arrived before the late contact.
	lead.Append(models.Action{ID: "1", Type: models.EventPhoneReveal, Timestamp: base})
	lead.Append(models.Action{ID: "3", Type: models.EventLeadClosed, Timestamp: base.Add(2 * time.Hour)})
	lead.Append(models.Action{ID: "2", Type: models.EventListerReply, Timestamp: base.Add(time.Hour)})

	history := StatusHistory(lead)
	assert.Equal(t, []models.LeadStatus{
		models.StatusNew, models.StatusContacted, models.StatusResponded, models.StatusClosed,
	}, history)
}

func TestStatusHistoryEmptyLog(t *testing.T) {
	lead := &models.Lead{Status: models.StatusNew}
	assert.Equal(t, []models.LeadStatus{models.StatusNew}, StatusHistory(lead))
}
