package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"event-whatsapp/internal/models"
)

// AddTemplate inserts a message template
func (s *Storage) AddTemplate(ctx context.Context, t models.MessageTemplate) error {
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	if t.Version == 0 {
		t.Version = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO message_templates (id, name, version, body, variables, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Version, t.Body, string(vars), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a message template by id
func (s *Storage) GetTemplate(ctx context.Context, id string) (*models.MessageTemplate, error) {
	var (
		t    models.MessageTemplate
		vars string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, body, variables FROM message_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Version, &t.Body, &vars)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}
	return &t, nil
}

// AddQueuedMessage persists rendered text awaiting delivery
func (s *Storage) AddQueuedMessage(ctx context.Context, q models.QueuedMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (id, event_id, registration_id, template_id, rendered_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.EventID, q.RegistrationID, q.TemplateID, q.RenderedText, toNanos(q.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert queued message: %w", err)
	}
	return nil
}

// QueuedMessages returns the queued messages of a registration, oldest first
func (s *Storage) QueuedMessages(ctx context.Context, registrationID string) ([]models.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, registration_id, template_id, rendered_text, created_at
		FROM queued_messages WHERE registration_id = ?
		ORDER BY created_at, rowid`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("list queued messages: %w", err)
	}
	defer rows.Close()

	var result []models.QueuedMessage
	for rows.Next() {
		var (
			q         models.QueuedMessage
			createdAt int64
		)
		if err := rows.Scan(&q.ID, &q.EventID, &q.RegistrationID, &q.TemplateID, &q.RenderedText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		q.CreatedAt = fromNanos(createdAt)
		result = append(result, q)
	}
	return result, rows.Err()
}

// SetCustomFieldValue adds or replaces the value of a named field on a target
func (s *Storage) SetCustomFieldValue(ctx context.Context, v models.CustomFieldValue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_field_values (id, name, label, target_kind, target_id, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, target_kind, target_id) DO UPDATE SET
			label = excluded.label,
			value = excluded.value`,
		v.ID, v.Name, v.Label, string(v.Target.Kind), v.Target.ID, v.Value)
	if err != nil {
		return fmt.Errorf("failed to set custom field %s: %w", v.Name, err)
	}
	return nil
}

// CustomFieldValues returns the values attached to target, by name
func (s *Storage) CustomFieldValues(ctx context.Context, target models.AttachTarget) ([]models.CustomFieldValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, label, value FROM custom_field_values
		WHERE target_kind = ? AND target_id = ?
		ORDER BY name`, string(target.Kind), target.ID)
	if err != nil {
		return nil, fmt.Errorf("list custom field values: %w", err)
	}
	defer rows.Close()

	var result []models.CustomFieldValue
	for rows.Next() {
		v := models.CustomFieldValue{Target: target}
		if err := rows.Scan(&v.ID, &v.Name, &v.Label, &v.Value); err != nil {
			return nil, fmt.Errorf("scan custom field value: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
