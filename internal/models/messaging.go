package models

import "time"

// SendMapping records that an outbound message went to a WhatsApp
// identity on behalf of a registration.
type SendMapping struct {
	ID             string     `json:"id"`
	WaID           string     `json:"wa_id"`
	EventID        string     `json:"event"`
	RegistrationID string     `json:"event_registration"`
	TemplateWamid  string     `json:"template_wamid,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ConsumedAt     *time.Time `json:"consumed_at,omitempty"`
}

// MessageTemplate is a named message body with placeholder variables,
// e.g. "Hi {{.guest_name}}".
type MessageTemplate struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Version   int      `json:"version"`
	Body      string   `json:"body"`
	Variables []string `json:"variables,omitempty"`
}

// QueuedMessage is rendered text held back until the guest re-engages
type QueuedMessage struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event"`
	RegistrationID string    `json:"registration"`
	TemplateID     string    `json:"template"`
	RenderedText   string    `json:"rendered_text"`
	CreatedAt      time.Time `json:"created_at"`
}
