package analytics

import (
	"github.com/habitaq/lead-analytics/internal/models"
)

// actionWeights ranks action kinds by how strongly they predict a close.
// Appointment requests and closed-won signals dominate; passive clicks
// contribute little.
var actionWeights = map[models.EventKind]float64{
	models.EventPhoneReveal:        15,
	models.EventMessageSent:        10,
	models.EventEmailSent:          8,
	models.EventWhatsAppClick:      12,
	models.EventAppointmentRequest: 25,
	models.EventWebsiteClick:       5,
	models.EventListerReply:        10,
	models.EventLeadClosed:         30,
	models.EventSale:               30,
}

const maxLeadScore = 100

// LeadScore returns a deterministic engagement score for a lead, the sum of
// its action weights capped at 100. The same action log always yields the
// same score, so re-merged duplicates never inflate it.
func LeadScore(lead *models.Lead) float64 {
	var score float64
	for i := range lead.Actions {
		score += actionWeights[lead.Actions[i].Type]
	}
	if score > maxLeadScore {
		return maxLeadScore
	}
	return score
}
