// Package rsvp applies guests' attendance decisions to registrations.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/models"
	"event-whatsapp/internal/notify"
	"event-whatsapp/internal/storage"
)

const publishTimeout = 2 * time.Second

// Repository is the persistence the updater writes to
type Repository interface {
	UpdateRSVP(ctx context.Context, id string, status models.RSVPStatus, respondedOn time.Time) (*models.Registration, error)
}

type Updater struct {
	repo      Repository
	publisher notify.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// NewUpdater creates a new RSVP updater
func NewUpdater(repo Repository, publisher notify.Publisher, logger zerolog.Logger) *Updater {
	return &Updater{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		log:       logger.With().Str("component", "rsvp").Logger(),
	}
}

// WithClock returns a copy of u that reads the time from now
func (u *Updater) WithClock(now func() time.Time) *Updater {
	c := *u
	c.now = now
	return &c
}

// ParseStatus validates a submitted decision
func ParseStatus(s string) (models.RSVPStatus, error) {
	status := models.RSVPStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return models.RSVPUnset, apperr.New(apperr.KindInvalidStatus, "invalid rsvp_status")
	}
	return status, nil
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseRespondedOn reads an ISO-8601 timestamp. Values without a zone are
// taken as UTC. It returns nil for empty or unparsable input.
func ParseRespondedOn(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// Apply sets reg's status and response time together, then announces the
// change on the event's live channel. respondedAt defaults to now.
func (u *Updater) Apply(ctx context.Context, reg *models.Registration, status models.RSVPStatus, respondedAt *time.Time) (*models.Registration, error) {
	if !status.Valid() {
		return nil, apperr.New(apperr.KindInvalidStatus, "invalid rsvp_status")
	}

	at := u.now().UTC()
	if respondedAt != nil {
		at = respondedAt.UTC()
	}

	updated, err := u.repo.UpdateRSVP(ctx, reg.ID, status, at)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "registration not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update RSVP: %w", err)
	}

	u.log.Info().
		Str("registration_id", updated.ID).
		Str("event_id", updated.EventID).
		Str("rsvp_status", string(updated.RSVPStatus)).
		Time("responded_on", at).
		Msg("RSVP updated")

	u.publish(ctx, updated)
	return updated, nil
}

// publish announces the update. Failures are logged and never reach the
// caller: the RSVP is already stored.
func (u *Updater) publish(ctx context.Context, reg *models.Registration) {
	if u.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	msg := notify.Message{
		Type: notify.MessageTypeRSVPUpdate,
		Data: notify.Change{
			Type:   notify.ChangeTypeRSVPChanged,
			Action: notify.ActionUpdated,
			Registration: notify.RegistrationSummary{
				ID:                   reg.ID,
				Event:                reg.EventID,
				RSVPStatus:           string(reg.RSVPStatus),
				EstimatedPax:         reg.EstimatedPax,
				AdditionalGuestCount: reg.AdditionalGuestCount,
			},
		},
	}
	if err := u.publisher.Publish(ctx, reg.EventID, msg); err != nil {
		u.log.Warn().Err(err).
			Str("registration_id", reg.ID).
			Str("topic", notify.Topic(reg.EventID)).
			Msg("Failed to publish RSVP update")
	}
}
