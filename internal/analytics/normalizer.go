package analytics

import (
	"strconv"
	"time"

	"github.com/habitaq/lead-analytics/internal/models"
)

// RawEvent is one upstream payload: an event name plus a property bag.
type RawEvent struct {
	Event      string            `json:"event"`
	Timestamp  int64             `json:"timestamp"`
	Properties map[string]string `json:"properties"`
}

// eventKinds maps upstream event names (including legacy aliases) onto
// canonical kinds.
var eventKinds = map[string]models.EventKind{
	"listing_view":        models.EventListingView,
	"property_view":       models.EventListingView,
	"impression":          models.EventImpression,
	"listing_impression":  models.EventImpression,
	"phone_reveal":        models.EventPhoneReveal,
	"show_phone":          models.EventPhoneReveal,
	"message_sent":        models.EventMessageSent,
	"email_sent":          models.EventEmailSent,
	"whatsapp_click":      models.EventWhatsAppClick,
	"appointment_request": models.EventAppointmentRequest,
	"website_click":       models.EventWebsiteClick,
	"lister_reply":        models.EventListerReply,
	"lead_closed":         models.EventLeadClosed,
	"lead_lost":           models.EventLeadLost,
	"sale":                models.EventSale,
}

// defaultChannels maps contact-intent kinds onto their implied channel
// when the payload carries none.
var defaultChannels = map[models.EventKind]models.Channel{
	models.EventPhoneReveal:        models.ChannelPhone,
	models.EventMessageSent:        models.ChannelMessage,
	models.EventEmailSent:          models.ChannelEmail,
	models.EventWhatsAppClick:      models.ChannelWhatsApp,
	models.EventAppointmentRequest: models.ChannelAppointment,
	models.EventWebsiteClick:       models.ChannelWebsite,
}

// metadataKeys are the property-bag keys carried over onto the canonical
// event's metadata. Everything else in the bag is upstream transport noise.
var metadataKeys = []string{
	"session_id", "viewed_from", "phone_number", "message_subject",
	"message_length", "appointment_at", "url", "sale_value",
	"sale_currency", "note",
}

// Normalize validates and maps a raw upstream payload into the canonical
// event type. It is a pure mapping: no side effects, and a rejected event
// is never partially processed.
func Normalize(raw RawEvent) (*models.NormalizedEvent, error) {
	kind, ok := eventKinds[raw.Event]
	if !ok {
		return nil, &models.ValidationError{Field: "event", Reason: "unknown kind " + strconv.Quote(raw.Event)}
	}

	props := raw.Properties
	if props == nil {
		props = map[string]string{}
	}

	listerID := props["lister_id"]
	listerType := models.ListerType(props["lister_type"])
	if listerID == "" {
		// Backward compatibility: legacy capture clients sent a
		// type-specific tenant-id field instead of the generic pair.
		// This is the single place that mapping happens.
		switch {
		case props["owner_id"] != "":
			listerID, listerType = props["owner_id"], models.ListerOwner
		case props["agent_id"] != "":
			listerID, listerType = props["agent_id"], models.ListerAgent
		case props["agency_id"] != "":
			listerID, listerType = props["agency_id"], models.ListerAgency
		}
	}

	entityKind := models.EntityKind(props["entity_kind"])
	if entityKind == "" {
		entityKind = models.EntityListing
	}

	contextType := models.ContextType(props["context_type"])
	if contextType == "" {
		contextType = models.ContextType(entityKind)
	}

	channel := models.Channel(props["channel"])
	if channel == "" {
		channel = models.Channel(props["viewed_from"])
	}
	if channel == "" {
		channel = defaultChannels[kind]
	}

	var ts time.Time
	if raw.Timestamp > 0 {
		ts = time.Unix(raw.Timestamp, 0).UTC()
	}

	ev := &models.NormalizedEvent{
		Kind:           kind,
		Timestamp:      ts,
		EntityKind:     entityKind,
		EntityID:       props["entity_id"],
		ListerID:       listerID,
		ListerType:     listerType,
		SeekerID:       props["seeker_id"],
		Channel:        channel,
		ContextType:    contextType,
		IdempotencyKey: props["idempotency_key"],
	}

	for _, k := range metadataKeys {
		if v := props[k]; v != "" {
			if ev.Metadata == nil {
				ev.Metadata = make(map[string]string)
			}
			ev.Metadata[k] = v
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
