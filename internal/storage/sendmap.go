package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"event-whatsapp/internal/models"
)

const sendMapColumns = `id, wa_id, event_id, event_registration_id, template_wamid,
	created_at, expires_at, consumed_at`

// UpsertSendMap inserts m, or refreshes the existing row that shares its
// identifying key: template_wamid when set, else (wa_id, event_id). The
// insert-or-update is a single statement. It returns the id of the row
// that now holds the mapping, which is the existing row's id on refresh.
func (s *Storage) UpsertSendMap(ctx context.Context, m models.SendMapping) (string, error) {
	conflict := `ON CONFLICT (wa_id, event_id) WHERE template_wamid IS NULL`
	if m.TemplateWamid != "" {
		conflict = `ON CONFLICT (template_wamid) WHERE template_wamid IS NOT NULL`
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO wa_send_map
			(id, wa_id, event_id, event_registration_id, template_wamid, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`+conflict+` DO UPDATE SET
			wa_id = excluded.wa_id,
			event_id = excluded.event_id,
			event_registration_id = excluded.event_registration_id,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
		RETURNING id`,
		m.ID, m.WaID, m.EventID, m.RegistrationID, nullableString(m.TemplateWamid),
		toNanos(m.CreatedAt), toNanos(m.CreatedAt), toNanos(m.ExpiresAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert send map: %w", err)
	}
	return id, nil
}

// LiveSendMaps returns the mappings for waID whose expiry is strictly after
// now, most recently created first.
func (s *Storage) LiveSendMaps(ctx context.Context, waID string, now time.Time) ([]models.SendMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sendMapColumns+` FROM wa_send_map
		WHERE wa_id = ? AND expires_at > ?
		ORDER BY created_at DESC, rowid DESC`,
		waID, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("list send maps: %w", err)
	}
	defer rows.Close()

	var result []models.SendMapping
	for rows.Next() {
		var (
			m                    models.SendMapping
			wamid                sql.NullString
			createdAt, expiresAt int64
			consumedAt           sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.WaID, &m.EventID, &m.RegistrationID, &wamid,
			&createdAt, &expiresAt, &consumedAt); err != nil {
			return nil, fmt.Errorf("scan send map: %w", err)
		}
		m.TemplateWamid = wamid.String
		m.CreatedAt = fromNanos(createdAt)
		m.ExpiresAt = fromNanos(expiresAt)
		m.ConsumedAt = timePtr(consumedAt)
		result = append(result, m)
	}
	return result, rows.Err()
}

// ConsumeFilter selects the mappings of a registration to mark consumed.
// Only the most specific populated criterion is applied: TemplateWamid,
// then WaID with EventID, then WaID alone.
type ConsumeFilter struct {
	RegistrationID string
	WaID           string
	EventID        string
	TemplateWamid  string
}

// MarkSendMapsConsumed stamps consumed_at on the matching mappings and
// returns how many rows changed.
func (s *Storage) MarkSendMapsConsumed(ctx context.Context, f ConsumeFilter, at time.Time) (int64, error) {
	where := []string{"event_registration_id = ?"}
	args := []any{toNanos(at), f.RegistrationID}
	switch {
	case f.TemplateWamid != "":
		where = append(where, "template_wamid = ?")
		args = append(args, f.TemplateWamid)
	case f.WaID != "" && f.EventID != "":
		where = append(where, "wa_id = ?", "event_id = ?")
		args = append(args, f.WaID, f.EventID)
	case f.WaID != "":
		where = append(where, "wa_id = ?")
		args = append(args, f.WaID)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE wa_send_map SET consumed_at = ? WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("mark send maps consumed: %w", err)
	}
	return res.RowsAffected()
}
