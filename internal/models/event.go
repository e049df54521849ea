package models

import (
	"errors"
	"fmt"
	"time"
)

// ===========================================
// CANONICAL EVENT
// ===========================================

// EventKind identifies the kind of user interaction.
type EventKind string

const (
	EventListingView        EventKind = "listing_view"
	EventImpression         EventKind = "impression"
	EventPhoneReveal        EventKind = "phone_reveal"
	EventMessageSent        EventKind = "message_sent"
	EventEmailSent          EventKind = "email_sent"
	EventWhatsAppClick      EventKind = "whatsapp_click"
	EventAppointmentRequest EventKind = "appointment_request"
	EventWebsiteClick       EventKind = "website_click"
	EventListerReply        EventKind = "lister_reply"
	EventLeadClosed         EventKind = "lead_closed"
	EventLeadLost           EventKind = "lead_lost"
	EventSale               EventKind = "sale"
)

// IsContactIntent reports whether the event kind expresses contact intent
// from a seeker toward a lister. These are the kinds that create or extend
// a lead.
func (k EventKind) IsContactIntent() bool {
	switch k {
	case EventPhoneReveal, EventMessageSent, EventEmailSent,
		EventWhatsAppClick, EventAppointmentRequest, EventWebsiteClick:
		return true
	}
	return false
}

// IsLeadAction reports whether the event kind belongs on a lead's action
// log at all: contact intent, lister responses and terminal signals.
func (k EventKind) IsLeadAction() bool {
	if k.IsContactIntent() {
		return true
	}
	switch k {
	case EventListerReply, EventLeadClosed, EventLeadLost, EventSale:
		return true
	}
	return false
}

// EntityKind identifies what kind of entity an event was recorded against.
type EntityKind string

const (
	EntityListing     EntityKind = "listing"
	EntityDevelopment EntityKind = "development"
	EntityProfile     EntityKind = "profile"
)

// Valid reports whether the entity kind is a known tag.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityListing, EntityDevelopment, EntityProfile:
		return true
	}
	return false
}

// ListerType is the closed set of tenant kinds that can own a listing.
type ListerType string

const (
	ListerOwner  ListerType = "owner"
	ListerAgent  ListerType = "agent"
	ListerAgency ListerType = "agency"
)

// Valid reports whether the lister type is one of the three known tags.
// Unknown upstream tenant labels are a hard validation failure, never a
// silent default.
func (t ListerType) Valid() bool {
	switch t {
	case ListerOwner, ListerAgent, ListerAgency:
		return true
	}
	return false
}

// Channel is the contact method attributed to an interaction.
type Channel string

const (
	ChannelPhone       Channel = "phone"
	ChannelMessage     Channel = "message"
	ChannelEmail       Channel = "email"
	ChannelWhatsApp    Channel = "whatsapp"
	ChannelAppointment Channel = "appointment"
	ChannelWebsite     Channel = "website"
	ChannelSocial      Channel = "social"
)

// Channels lists every known channel tag, in report order.
var Channels = []Channel{
	ChannelPhone, ChannelMessage, ChannelEmail, ChannelWhatsApp,
	ChannelAppointment, ChannelWebsite, ChannelSocial,
}

// Valid reports whether the channel is a known tag.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// ContextType is the surface where an interaction happened.
type ContextType string

const (
	ContextListing      ContextType = "listing"
	ContextDevelopment  ContextType = "development"
	ContextProfile      ContextType = "profile"
	ContextCustomerCare ContextType = "customer_care"
)

// Valid reports whether the context type is a known tag.
func (c ContextType) Valid() bool {
	switch c {
	case ContextListing, ContextDevelopment, ContextProfile, ContextCustomerCare:
		return true
	}
	return false
}

// NormalizedEvent is the canonical internal representation of one upstream
// interaction event. It is immutable once constructed by the normalizer.
type NormalizedEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`

	ListerID   string     `json:"lister_id"`
	ListerType ListerType `json:"lister_type"`

	// SeekerID is empty when the acting user could not be resolved.
	SeekerID string `json:"seeker_id,omitempty"`

	Channel     Channel     `json:"channel,omitempty"`
	ContextType ContextType `json:"context_type"`

	// IdempotencyKey is the upstream delivery token, when present. Used by
	// the lead merger to discard re-delivered actions.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Anonymous reports whether no seeker could be resolved for this event.
func (e *NormalizedEvent) Anonymous() bool {
	return e.SeekerID == ""
}

// Day returns the UTC day bucket the event falls into, ISO formatted.
func (e *NormalizedEvent) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// ===========================================
// VALIDATION
// ===========================================

var (
	// ErrMissingEntityID is returned for events without an entity id.
	ErrMissingEntityID = errors.New("event missing entity_id")
	// ErrMissingListerID is returned for events without a lister id.
	ErrMissingListerID = errors.New("event missing lister_id")
	// ErrMissingTimestamp is returned for events without a timestamp.
	ErrMissingTimestamp = errors.New("event missing timestamp")
)

// ValidationError describes a rejected upstream event. Rejected events are
// never partially processed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Validate checks the invariants on a constructed event.
func (e *NormalizedEvent) Validate() error {
	if e.EntityID == "" {
		return ErrMissingEntityID
	}
	if e.ListerID == "" {
		return ErrMissingListerID
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if !e.EntityKind.Valid() {
		return &ValidationError{Field: "entity_kind", Reason: fmt.Sprintf("unknown tag %q", e.EntityKind)}
	}
	if !e.ListerType.Valid() {
		return &ValidationError{Field: "lister_type", Reason: fmt.Sprintf("unknown tag %q", e.ListerType)}
	}
	if e.Channel != "" && !e.Channel.Valid() {
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("unknown tag %q", e.Channel)}
	}
	if !e.ContextType.Valid() {
		return &ValidationError{Field: "context_type", Reason: fmt.Sprintf("unknown tag %q", e.ContextType)}
	}
	return nil
}
