package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"event-whatsapp/internal/models"
)

// AddEvent inserts an event
func (s *Storage) AddEvent(ctx context.Context, e models.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, date, location, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Date, e.Location, toNanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// AddGuest inserts a guest
func (s *Storage) AddGuest(ctx context.Context, g models.Guest) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guests (id, name, phone, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.Phone, toNanos(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert guest: %w", err)
	}
	return nil
}

// AddRegistration inserts a registration
func (s *Storage) AddRegistration(ctx context.Context, r models.Registration) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_registrations
			(id, event_id, guest_id, rsvp_status, responded_on, estimated_pax, additional_guest_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.GuestID, string(r.RSVPStatus), nullableTime(r.RespondedOn),
		nullableInt(r.EstimatedPax), nullableInt(r.AdditionalGuestCount), toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

const registrationColumns = `id, event_id, guest_id, rsvp_status, responded_on,
	estimated_pax, additional_guest_count, created_at`

const joinedRegistrationColumns = `r.id, r.event_id, r.guest_id, r.rsvp_status, r.responded_on,
	r.estimated_pax, r.additional_guest_count, r.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner, extra ...any) (*models.Registration, error) {
	var (
		r               models.Registration
		status          string
		respondedOn     sql.NullInt64
		pax, additional sql.NullInt64
		createdAt       int64
	)
	dest := append([]any{&r.ID, &r.EventID, &r.GuestID, &status, &respondedOn, &pax, &additional, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.RSVPStatus = models.RSVPStatus(status)
	r.RespondedOn = timePtr(respondedOn)
	r.EstimatedPax = intPtr(pax)
	r.AdditionalGuestCount = intPtr(additional)
	r.CreatedAt = fromNanos(createdAt)
	return &r, nil
}

// GetRegistration retrieves a registration by id
func (s *Storage) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = ?`, id)
	r, err := scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("get registration %s: %w", id, err)
	}
	return r, nil
}

// LatestRegistrationForEvent returns the most recently created registration of an event
func (s *Storage) LatestRegistrationForEvent(ctx context.Context, eventID string) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+registrationColumns+` FROM event_registrations
		WHERE event_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, eventID)
	r, err := scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("latest registration for event %s: %w", eventID, err)
	}
	return r, nil
}

// GetRegistrationDetail retrieves a registration of eventID together with
// its guest and event.
func (s *Storage) GetRegistrationDetail(ctx context.Context, eventID, registrationID string) (*models.RegistrationDetail, error) {
	var (
		d                          models.RegistrationDetail
		guestCreated, eventCreated int64
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+joinedRegistrationColumns+`,
			g.id, g.name, g.phone, g.created_at,
			e.id, e.name, e.date, e.location, e.created_at
		FROM event_registrations r
		JOIN guests g ON g.id = r.guest_id
		JOIN events e ON e.id = r.event_id
		WHERE r.id = ? AND r.event_id = ?`, registrationID, eventID)
	r, err := scanRegistration(row,
		&d.Guest.ID, &d.Guest.Name, &d.Guest.Phone, &guestCreated,
		&d.Event.ID, &d.Event.Name, &d.Event.Date, &d.Event.Location, &eventCreated)
	if err != nil {
		return nil, fmt.Errorf("get registration %s of event %s: %w", registrationID, eventID, err)
	}
	d.Registration = *r
	d.Guest.CreatedAt = fromNanos(guestCreated)
	d.Event.CreatedAt = fromNanos(eventCreated)
	return &d, nil
}

// RegistrationFilter narrows ListRegistrations. Zero fields match everything.
type RegistrationFilter struct {
	EventID string
	Status  *models.RSVPStatus
}

// ListRegistrations returns registrations in creation order
func (s *Storage) ListRegistrations(ctx context.Context, f RegistrationFilter) ([]models.Registration, error) {
	var (
		where []string
		args  []any
	)
	if f.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, f.EventID)
	}
	if f.Status != nil {
		where = append(where, "rsvp_status = ?")
		args = append(args, string(*f.Status))
	}
	query := `SELECT ` + registrationColumns + ` FROM event_registrations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var result []models.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// UpdateRSVP sets status and response time together in one statement and
// returns the updated registration.
func (s *Storage) UpdateRSVP(ctx context.Context, id string, status models.RSVPStatus, respondedOn time.Time) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE event_registrations SET rsvp_status = ?, responded_on = ?
		WHERE id = ?
		RETURNING `+registrationColumns,
		string(status), toNanos(respondedOn), id)
	r, err := scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("update rsvp for %s: %w", id, err)
	}
	return r, nil
}
