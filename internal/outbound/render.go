package outbound

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"event-whatsapp/internal/models"
)

// FieldSource reads custom field values attached to an entity
type FieldSource interface {
	CustomFieldValues(ctx context.Context, target models.AttachTarget) ([]models.CustomFieldValue, error)
}

// BuildContext collects the values a template can reference for a
// registration. Custom fields are layered event, then guest, then
// registration, so the most specific value wins; variables override all.
func BuildContext(ctx context.Context, fields FieldSource, d *models.RegistrationDetail, variables map[string]any) (map[string]any, error) {
	data := map[string]any{
		"registration_id": d.ID,
		"rsvp_status":     string(d.RSVPStatus),
		"guest_name":      d.Guest.Name,
		"guest_phone":     d.Guest.Phone,
		"event_name":      d.Event.Name,
		"event_date":      d.Event.Date,
		"event_location":  d.Event.Location,
	}
	if d.EstimatedPax != nil {
		data["estimated_pax"] = *d.EstimatedPax
	}
	if d.AdditionalGuestCount != nil {
		data["additional_guest_count"] = *d.AdditionalGuestCount
	}

	targets := []models.AttachTarget{
		{Kind: models.TargetEvent, ID: d.EventID},
		{Kind: models.TargetGuest, ID: d.GuestID},
		{Kind: models.TargetRegistration, ID: d.ID},
	}
	for _, target := range targets {
		values, err := fields.CustomFieldValues(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom fields for %s %s: %w", target.Kind, target.ID, err)
		}
		for _, v := range values {
			data[v.Name] = v.Value
		}
	}

	for k, v := range variables {
		data[k] = v
	}
	return data, nil
}

// Render executes the template body against data. Every variable the
// template declares must be present, and any reference to a missing key
// fails.
func Render(tmpl *models.MessageTemplate, data map[string]any) (string, error) {
	for _, name := range tmpl.Variables {
		if _, ok := data[name]; !ok {
			return "", fmt.Errorf("missing variable %q", name)
		}
	}

	t, err := template.New(tmpl.Name).Option("missingkey=error").Parse(tmpl.Body)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
