// Package resolver works out which registration an inbound reply is about.
//
// A reply names its registration directly, or carries only the sender's
// WhatsApp number plus optional hints. In the second case the live send
// mappings for that number are narrowed by an ordered list of strategies;
// the first strategy to produce a mapping wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/models"
	"event-whatsapp/internal/storage"
	"event-whatsapp/internal/whatsapp"
)

// Repository is the persistence the resolver reads from
type Repository interface {
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	LiveSendMaps(ctx context.Context, waID string, now time.Time) ([]models.SendMapping, error)
}

// Query is the identifying information carried by an inbound reply
type Query struct {
	RegistrationID string
	WaID           string
	TemplateWamid  string
	EventID        string
}

// Strategy picks a mapping from the live candidates, newest first. It
// returns false when it has nothing to say about q.
type Strategy struct {
	Name  string
	Match func(q Query, candidates []models.SendMapping) (models.SendMapping, bool)
}

// ByTemplateWamid matches the single mapping created for the send the
// guest replied to.
var ByTemplateWamid = Strategy{
	Name: "template_wamid",
	Match: func(q Query, candidates []models.SendMapping) (models.SendMapping, bool) {
		if q.TemplateWamid == "" {
			return models.SendMapping{}, false
		}
		var (
			found models.SendMapping
			count int
		)
		for _, m := range candidates {
			if m.TemplateWamid == q.TemplateWamid {
				found = m
				count++
			}
		}
		return found, count == 1
	},
}

// ByEvent takes the newest mapping for the hinted event
var ByEvent = Strategy{
	Name: "event",
	Match: func(q Query, candidates []models.SendMapping) (models.SendMapping, bool) {
		if q.EventID == "" {
			return models.SendMapping{}, false
		}
		for _, m := range candidates {
			if m.EventID == q.EventID {
				return m, true
			}
		}
		return models.SendMapping{}, false
	},
}

// Latest takes the newest mapping regardless of event
var Latest = Strategy{
	Name: "latest",
	Match: func(_ Query, candidates []models.SendMapping) (models.SendMapping, bool) {
		if len(candidates) == 0 {
			return models.SendMapping{}, false
		}
		return candidates[0], true
	},
}

// DefaultStrategies is the resolution order used by New
var DefaultStrategies = []Strategy{ByTemplateWamid, ByEvent, Latest}

type Resolver struct {
	repo       Repository
	strategies []Strategy
	now        func() time.Time
	log        zerolog.Logger
}

// New creates a resolver using DefaultStrategies
func New(repo Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{
		repo:       repo,
		strategies: DefaultStrategies,
		now:        time.Now,
		log:        logger.With().Str("component", "resolver").Logger(),
	}
}

// WithStrategies returns a copy of r that tries strategies in order
func (r *Resolver) WithStrategies(strategies ...Strategy) *Resolver {
	c := *r
	c.strategies = strategies
	return &c
}

// WithClock returns a copy of r that reads the time from now
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	c := *r
	c.now = now
	return &c
}

// Resolve returns the registration q refers to. An explicit registration id
// is authoritative: if it does not exist no mapping lookup is attempted.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*models.Registration, error) {
	if q.RegistrationID != "" {
		return r.load(ctx, q.RegistrationID)
	}

	q.WaID = whatsapp.NormalizePhoneNumber(q.WaID)
	if q.WaID == "" {
		return nil, apperr.New(apperr.KindMissingIdentity, "missing wa_id")
	}

	candidates, err := r.repo.LiveSendMaps(ctx, q.WaID, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load send maps: %w", err)
	}

	for _, s := range r.strategies {
		m, ok := s.Match(q, candidates)
		if !ok {
			continue
		}
		r.log.Debug().
			Str("wa_id", q.WaID).
			Str("strategy", s.Name).
			Str("map_id", m.ID).
			Str("registration_id", m.RegistrationID).
			Msg("Resolved registration")
		return r.load(ctx, m.RegistrationID)
	}
	return nil, apperr.New(apperr.KindNoMapping, "no mapping found for wa_id")
}

func (r *Resolver) load(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := r.repo.GetRegistration(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "registration not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	return reg, nil
}
