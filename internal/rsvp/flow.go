package rsvp

import (
	"context"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/models"
	"event-whatsapp/internal/resolver"
	"event-whatsapp/internal/sendmap"
)

// Resolver finds the registration a reply refers to
type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query) (*models.Registration, error)
}

// Consumer marks the send mappings a reply used up
type Consumer interface {
	MarkConsumed(ctx context.Context, reply sendmap.Reply) (int64, error)
}

// Reply is an inbound RSVP, from the webhook or straight off WhatsApp
type Reply struct {
	Status         string
	RespondedOn    string
	RegistrationID string
	WaID           string
	TemplateWamid  string
	EventID        string
}

// Flow resolves an inbound reply, applies it and retires the mapping it
// came through.
type Flow struct {
	resolver Resolver
	updater  *Updater
	consumer Consumer
	log      zerolog.Logger
}

// NewFlow creates a new reply flow
func NewFlow(resolver Resolver, updater *Updater, consumer Consumer, logger zerolog.Logger) *Flow {
	return &Flow{
		resolver: resolver,
		updater:  updater,
		consumer: consumer,
		log:      logger.With().Str("component", "rsvp_flow").Logger(),
	}
}

// HandleReply applies r and returns the updated registration. The status
// is validated before anything is looked up or written.
func (f *Flow) HandleReply(ctx context.Context, r Reply) (*models.Registration, error) {
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	reg, err := f.resolver.Resolve(ctx, resolver.Query{
		RegistrationID: r.RegistrationID,
		WaID:           r.WaID,
		TemplateWamid:  r.TemplateWamid,
		EventID:        r.EventID,
	})
	if err != nil {
		return nil, err
	}

	updated, err := f.updater.Apply(ctx, reg, status, ParseRespondedOn(r.RespondedOn))
	if err != nil {
		return nil, err
	}

	f.consume(ctx, updated, r)
	return updated, nil
}

// consume is bookkeeping only; its failure must not undo the RSVP.
func (f *Flow) consume(ctx context.Context, reg *models.Registration, r Reply) {
	n, err := f.consumer.MarkConsumed(ctx, sendmap.Reply{
		RegistrationID: reg.ID,
		WaID:           r.WaID,
		EventID:        r.EventID,
		TemplateWamid:  r.TemplateWamid,
	})
	if err != nil {
		f.log.Warn().Err(err).Str("registration_id", reg.ID).Msg("Failed to mark send map consumed")
		return
	}
	f.log.Debug().Str("registration_id", reg.ID).Int64("count", n).Msg("Marked send maps consumed")
}
