package models

import (
	"fmt"
	"time"
)

// ===========================================
// LEAD STATUS
// ===========================================

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	StatusNew       LeadStatus = "new"
	StatusContacted LeadStatus = "contacted"
	StatusScheduled LeadStatus = "scheduled"
	StatusResponded LeadStatus = "responded"
	StatusClosed    LeadStatus = "closed"
	StatusColdLead  LeadStatus = "cold_lead"
	StatusAbandoned LeadStatus = "abandoned"
)

// Terminal reports whether the status no longer advances automatically.
// Actions on a terminal lead are still logged.
func (s LeadStatus) Terminal() bool {
	return s == StatusClosed || s == StatusAbandoned
}

// Valid reports whether the status is a known tag.
func (s LeadStatus) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusScheduled, StatusResponded,
		StatusClosed, StatusColdLead, StatusAbandoned:
		return true
	}
	return false
}

// ===========================================
// ACTION METADATA
// ===========================================

// ActionMetadata carries per-channel payload for a lead action. Exactly one
// of the variant fields is set, selected by Kind; unknown variants are
// rejected at the boundary instead of surfacing deep in report code.
type ActionMetadata struct {
	Kind string `json:"kind"`

	Phone       *PhoneMetadata       `json:"phone,omitempty"`
	Message     *MessageMetadata     `json:"message,omitempty"`
	Appointment *AppointmentMetadata `json:"appointment,omitempty"`
	Website     *WebsiteMetadata     `json:"website,omitempty"`
	Sale        *SaleMetadata        `json:"sale,omitempty"`
	Note        *NoteMetadata        `json:"note,omitempty"`
}

// PhoneMetadata is attached to phone-reveal and whatsapp actions.
type PhoneMetadata struct {
	Number string `json:"number,omitempty"`
}

// MessageMetadata is attached to message and email actions.
type MessageMetadata struct {
	Subject string `json:"subject,omitempty"`
	Length  int    `json:"length,omitempty"`
}

// AppointmentMetadata is attached to appointment requests.
type AppointmentMetadata struct {
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// WebsiteMetadata is attached to attributed website clicks.
type WebsiteMetadata struct {
	URL string `json:"url,omitempty"`
}

// SaleMetadata is attached to closed-won signals.
type SaleMetadata struct {
	Value    float64 `json:"value,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// NoteMetadata is attached to lister replies and post-terminal follow-ups.
type NoteMetadata struct {
	Text string `json:"text,omitempty"`
}

// ===========================================
// LEAD AGGREGATE
// ===========================================

// Action is one entry in a lead's append-only action log. The log is the
// audit source of truth: entries are never reordered or deleted.
type Action struct {
	ID        string         `json:"id"`
	Type      EventKind      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   Channel        `json:"channel,omitempty"`
	Metadata  ActionMetadata `json:"metadata"`
}

// Lead is a deduplicated, stateful record of all contact-intent
// interactions between one seeker and one listing.
type Lead struct {
	ListingID string `json:"listing_id"`
	SeekerID  string `json:"seeker_id"`

	// Tenant ownership, set once at creation, never mutated.
	ListerID   string     `json:"lister_id"`
	ListerType ListerType `json:"lister_type"`

	// ContextType is the surface where the first action occurred. Immutable.
	ContextType ContextType `json:"context_type"`

	// IsAnonymous marks leads whose seeker key was synthesized. Excluded
	// from attribution analytics, still counted in raw volume.
	IsAnonymous bool `json:"is_anonymous"`

	Status  LeadStatus `json:"status"`
	Actions []Action   `json:"lead_actions"`

	// Derived fields, recomputed on every append.
	TotalActions   int       `json:"total_actions"`
	FirstActionAt  time.Time `json:"first_action_date"`
	LastActionAt   time.Time `json:"last_action_date"`
	LastActionType EventKind `json:"last_action_type"`

	CreatedAt time.Time `json:"created_at"`

	// Version guards the read-modify-write cycle on the working copy.
	// Incremented by the store on every successful save.
	Version int64 `json:"version"`
}

// NewLead initializes a lead in status new with an empty action log.
func NewLead(listingID, seekerID string, ev *NormalizedEvent, anonymous bool) *Lead {
	return &Lead{
		ListingID:   listingID,
		SeekerID:    seekerID,
		ListerID:    ev.ListerID,
		ListerType:  ev.ListerType,
		ContextType: ev.ContextType,
		IsAnonymous: anonymous,
		Status:      StatusNew,
		CreatedAt:   ev.Timestamp.UTC(),
	}
}

// Key returns the dedup key identifying the lead.
func (l *Lead) Key() string {
	return fmt.Sprintf("%s:%s", l.ListingID, l.SeekerID)
}

// HasAction reports whether an action with the given id is already present
// in the log.
func (l *Lead) HasAction(id string) bool {
	for i := range l.Actions {
		if l.Actions[i].ID == id {
			return true
		}
	}
	return false
}

// Append adds an action to the log and recomputes the derived fields.
// Status evaluation is the merger's job, not the aggregate's.
func (l *Lead) Append(a Action) {
	l.Actions = append(l.Actions, a)
	l.TotalActions = len(l.Actions)
	if l.FirstActionAt.IsZero() || a.Timestamp.Before(l.FirstActionAt) {
		l.FirstActionAt = a.Timestamp
	}
	if a.Timestamp.After(l.LastActionAt) {
		l.LastActionAt = a.Timestamp
		l.LastActionType = a.Type
	}
}

// FirstAction returns the earliest action by timestamp, or nil for an empty
// log. The log is appended in arrival order, which is not necessarily
// timestamp order.
func (l *Lead) FirstAction() *Action {
	var first *Action
	for i := range l.Actions {
		if first == nil || l.Actions[i].Timestamp.Before(first.Timestamp) {
			first = &l.Actions[i]
		}
	}
	return first
}
