// Package sendmap remembers which registration an outbound WhatsApp
// message was sent for, so that replies from the same number can be tied
// back to it.
package sendmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/models"
	"event-whatsapp/internal/storage"
	"event-whatsapp/internal/whatsapp"
)

// DefaultTTL is how long a mapping stays resolvable after it is recorded
// or refreshed.
const DefaultTTL = 30 * 24 * time.Hour

// Repository is the persistence the store needs
type Repository interface {
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	LatestRegistrationForEvent(ctx context.Context, eventID string) (*models.Registration, error)
	UpsertSendMap(ctx context.Context, m models.SendMapping) (string, error)
	MarkSendMapsConsumed(ctx context.Context, f storage.ConsumeFilter, at time.Time) (int64, error)
}

type Store struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
	log  zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new send mapping store
func NewStore(repo Repository, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		ttl:  DefaultTTL,
		now:  time.Now,
		log:  logger.With().Str("component", "sendmap").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send describes one outbound message to track
type Send struct {
	WaID           string
	EventID        string
	RegistrationID string
	TemplateWamid  string
}

// RecordSend stores or refreshes the mapping for send and returns its id.
// Without a registration id the event's newest registration is used.
func (s *Store) RecordSend(ctx context.Context, send Send) (string, error) {
	waID := whatsapp.NormalizePhoneNumber(send.WaID)
	if waID == "" || send.EventID == "" {
		return "", apperr.New(apperr.KindValidation, "missing wa_id or event_id")
	}
	if !whatsapp.ValidIdentity(waID) {
		return "", apperr.New(apperr.KindValidation, "invalid wa_id")
	}

	reg, err := s.target(ctx, send)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	id, err := s.repo.UpsertSendMap(ctx, models.SendMapping{
		ID:             uuid.NewString(),
		WaID:           waID,
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		TemplateWamid:  send.TemplateWamid,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "track_send error", err)
	}

	s.log.Info().
		Str("wa_id", waID).
		Str("event_id", reg.EventID).
		Str("registration_id", reg.ID).
		Str("template_wamid", send.TemplateWamid).
		Str("map_id", id).
		Msg("Recorded send")
	return id, nil
}

func (s *Store) target(ctx context.Context, send Send) (*models.Registration, error) {
	if send.RegistrationID != "" {
		reg, err := s.repo.GetRegistration(ctx, send.RegistrationID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.KindValidation, "registration not found")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load registration: %w", err)
		}
		return reg, nil
	}

	reg, err := s.repo.LatestRegistrationForEvent(ctx, send.EventID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindValidation, "could not resolve registration")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	return reg, nil
}

// Reply identifies which mappings an inbound reply used up
type Reply struct {
	RegistrationID string
	WaID           string
	EventID        string
	TemplateWamid  string
}

// MarkConsumed stamps consumed_at on the registration's mappings that match
// the most specific criterion in reply. Callers on the RSVP path log a
// returned error and carry on.
func (s *Store) MarkConsumed(ctx context.Context, reply Reply) (int64, error) {
	n, err := s.repo.MarkSendMapsConsumed(ctx, storage.ConsumeFilter{
		RegistrationID: reply.RegistrationID,
		WaID:           whatsapp.NormalizePhoneNumber(reply.WaID),
		EventID:        reply.EventID,
		TemplateWamid:  reply.TemplateWamid,
	}, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark send maps consumed: %w", err)
	}
	return n, nil
}
