package analytics

import (
	"time"

	"github.com/habitaq/lead-analytics/internal/models"
)

// transitionRule is one row of the status-transition table. Rules are
// evaluated in order against the type of the action just appended and
// the lead's current status; the first match wins.
type transitionRule struct {
	from []models.LeadStatus
	when func(models.EventKind) bool
	to   models.LeadStatus
}

func isContact(k models.EventKind) bool     { return k.IsContactIntent() }
func isAppointment(k models.EventKind) bool { return k == models.EventAppointmentRequest }
func isReply(k models.EventKind) bool       { return k == models.EventListerReply }
func isClosedWon(k models.EventKind) bool {
	return k == models.EventLeadClosed || k == models.EventSale
}
func isLost(k models.EventKind) bool { return k == models.EventLeadLost }

var transitionTable = []transitionRule{
	{from: []models.LeadStatus{models.StatusNew}, when: isContact, to: models.StatusContacted},
	{from: []models.LeadStatus{models.StatusContacted, models.StatusResponded}, when: isAppointment, to: models.StatusScheduled},
	{from: []models.LeadStatus{models.StatusContacted, models.StatusScheduled, models.StatusResponded}, when: isClosedWon, to: models.StatusClosed},
	{from: []models.LeadStatus{models.StatusContacted, models.StatusScheduled, models.StatusResponded}, when: isLost, to: models.StatusAbandoned},
	{from: []models.LeadStatus{models.StatusContacted}, when: isReply, to: models.StatusResponded},
}

// NextStatus evaluates the transition table for an action of the given
// type arriving on a lead in the given status. The second return value
// reports whether a transition fired. Terminal statuses never advance:
// later actions are logged but the status stays put.
func NextStatus(current models.LeadStatus, action models.EventKind) (models.LeadStatus, bool) {
	if current.Terminal() {
		return current, false
	}
	for _, rule := range transitionTable {
		if rule.when == nil || !rule.when(action) {
			continue
		}
		for _, from := range rule.from {
			if from == current {
				return rule.to, true
			}
		}
	}
	return current, false
}

// ApplyInactivity marks a non-terminal lead cold when its last action is
// older than the inactivity window. Evaluated at rollup time; the window
// is a policy parameter. Returns true when the status changed.
func ApplyInactivity(lead *models.Lead, window time.Duration, now time.Time) bool {
	if window <= 0 || lead.Status.Terminal() || lead.Status == models.StatusColdLead {
		return false
	}
	if lead.LastActionAt.IsZero() || now.Sub(lead.LastActionAt) < window {
		return false
	}
	lead.Status = models.StatusColdLead
	return true
}

// StatusHistory replays a lead's action log, in timestamp order, through
// the transition table and returns the sequence of statuses the lead
// visited, starting at new. Used by the funnel report.
func StatusHistory(lead *models.Lead) []models.LeadStatus {
	actions := make([]models.Action, len(lead.Actions))
	copy(actions, lead.Actions)
	// The log is append-ordered by arrival; replay in event-time order.
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j].Timestamp.Before(actions[j-1].Timestamp); j-- {
			actions[j], actions[j-1] = actions[j-1], actions[j]
		}
	}

	history := []models.LeadStatus{models.StatusNew}
	current := models.StatusNew
	for _, a := range actions {
		next, fired := NextStatus(current, a.Type)
		if fired && next != current {
			history = append(history, next)
			current = next
		}
	}
	return history
}
