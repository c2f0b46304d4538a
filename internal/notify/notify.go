// Package notify carries live RSVP updates to per-event channels.
package notify

import (
	"context"
)

// Topic returns the channel name updates for eventID are published on
func Topic(eventID string) string {
	return "event_" + eventID
}

// Message is the envelope delivered to subscribers of an event topic
type Message struct {
	Type string `json:"type"`
	Data Change `json:"data"`
}

// Change describes what happened to a registration
type Change struct {
	Type         string              `json:"type"`
	Action       string              `json:"action"`
	Registration RegistrationSummary `json:"registration"`
}

// RegistrationSummary is the registration state pushed to live views
type RegistrationSummary struct {
	ID                   string `json:"id"`
	Event                string `json:"event"`
	RSVPStatus           string `json:"rsvp_status"`
	EstimatedPax         *int   `json:"estimated_pax"`
	AdditionalGuestCount *int   `json:"additional_guest_count"`
}

const (
	MessageTypeRSVPUpdate = "rsvp_update"
	ChangeTypeRSVPChanged = "rsvp_changed"
	ActionUpdated         = "updated"
)

// Publisher sends a message to everyone listening on an event. Having no
// listeners is not an error.
type Publisher interface {
	Publish(ctx context.Context, eventID string, msg Message) error
}

// Subscriber streams messages for an event until cancel is called or ctx
// ends.
type Subscriber interface {
	Subscribe(ctx context.Context, eventID string) (msgs <-chan Message, cancel func(), err error)
}

// Broker both publishes and subscribes
type Broker interface {
	Publisher
	Subscriber
}
