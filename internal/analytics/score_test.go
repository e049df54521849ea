package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/habitaq/lead-analytics/internal/models"
)

func leadWithActions(kinds ...models.EventKind) *models.Lead {
	lead := &models.Lead{}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, k := range kinds {
		lead.Append(models.Action{
			ID:        string(k) + string(rune('a'+i)),
			Type:      k,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return lead
}

func TestLeadScore(t *testing.T) {
	assert.Equal(t, 0.0, LeadScore(&models.Lead{}))
	assert.Equal(t, 15.0, LeadScore(leadWithActions(models.EventPhoneReveal)))
	assert.Equal(t, 50.0, LeadScore(leadWithActions(
		models.EventPhoneReveal, models.EventMessageSent, models.EventAppointmentRequest,
	)))
}

func TestLeadScoreCapped(t *testing.T) {
	lead := leadWithActions(
		models.EventAppointmentRequest, models.EventAppointmentRequest,
		models.EventAppointmentRequest, models.EventLeadClosed, models.EventSale,
	)
	assert.Equal(t, 100.0, LeadScore(lead))
}

func TestLeadScoreDeterministic(t *testing.T) {
	a := leadWithActions(models.EventPhoneReveal, models.EventListerReply)
	b := leadWithActions(models.EventPhoneReveal, models.EventListerReply)
	assert.Equal(t, LeadScore(a), LeadScore(b))
}
