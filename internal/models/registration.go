package models

import "time"

// RSVPStatus represents the attendance confirmation status
type RSVPStatus string

const (
	RSVPUnset RSVPStatus = ""
	RSVPYes   RSVPStatus = "yes"
	RSVPNo    RSVPStatus = "no"
	RSVPMaybe RSVPStatus = "maybe"
)

// Valid reports whether s is a decision a guest can submit. RSVPUnset is
// a stored state only.
func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPYes, RSVPNo, RSVPMaybe:
		return true
	}
	return false
}

// Registration is a guest's participation in an event
type Registration struct {
	ID                   string     `json:"id"`
	EventID              string     `json:"event"`
	GuestID              string     `json:"guest"`
	RSVPStatus           RSVPStatus `json:"rsvp_status"`
	RespondedOn          *time.Time `json:"responded_on"`
	EstimatedPax         *int       `json:"estimated_pax"`
	AdditionalGuestCount *int       `json:"additional_guest_count"`
	CreatedAt            time.Time  `json:"created_at"`
}

// RegistrationDetail is a registration joined with its guest and event,
// the shape needed to render messages for it.
type RegistrationDetail struct {
	Registration
	Guest Guest
	Event Event
}
