package models

// TargetKind names the entity type a custom field value hangs off
type TargetKind string

const (
	TargetEvent        TargetKind = "event"
	TargetGuest        TargetKind = "guest"
	TargetRegistration TargetKind = "registration"
)

// AttachTarget identifies the entity a custom field value is attached to
type AttachTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// CustomFieldValue is a single named value attached to an entity. Values
// are stored as text.
type CustomFieldValue struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Label  string       `json:"label"`
	Target AttachTarget `json:"target"`
	Value  string       `json:"value"`
}
