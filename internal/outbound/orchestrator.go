// Package outbound sends templated messages to registered guests, holding
// them back behind an opener when WhatsApp's messaging window is closed.
package outbound

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

// Repository is the persistence the orchestrator needs
type Repository interface {
	FieldSource
	GetRegistrationDetail(ctx context.Context, eventID, registrationID string) (*models.RegistrationDetail, error)
	GetTemplate(ctx context.Context, id string) (*models.MessageTemplate, error)
	AddQueuedMessage(ctx context.Context, q models.QueuedMessage) error
}

// Sender delivers messages over WhatsApp
type Sender interface {
	SendFreeformText(ctx context.Context, phoneNumber, text string) (string, error)
	SendResumeOpener(ctx context.Context, phoneNumber, registrationID string) (string, error)
}

// Window reports whether free-form messages are currently allowed
type Window interface {
	WithinWindow(lastInboundAt *time.Time) bool
}

// Status is the outcome of a send request
type Status string

const (
	StatusSent   Status = "sent"
	StatusQueued Status = "queued"
)

// Request asks for a template to be sent to one registration
type Request struct {
	EventID        string
	RegistrationID string
	TemplateID     string
	Variables      map[string]any
}

// Result reports what happened. MessageID is the free-form message on
// StatusSent and the opener on StatusQueued.
type Result struct {
	Status          Status
	MessageID       string
	QueuedMessageID string
}

type Orchestrator struct {
	repo   Repository
	sender Sender
	window Window
	now    func() time.Time
	log    zerolog.Logger
}

// NewOrchestrator creates a new outbound orchestrator
func NewOrchestrator(repo Repository, sender Sender, window Window, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		sender: sender,
		window: window,
		now:    time.Now,
		log:    logger.With().Str("component", "outbound").Logger(),
	}
}

// SendLocalTemplate renders the template for the registration and sends it
// now if the window is open. Otherwise it queues the rendered text and
// sends the opener. If the opener fails the queued message is kept and a
// send error is returned.
func (o *Orchestrator) SendLocalTemplate(ctx context.Context, req Request) (*Result, error) {
	reg, err := o.repo.GetRegistrationDetail(ctx, req.EventID, req.RegistrationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "registration not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}

	tmpl, err := o.repo.GetTemplate(ctx, req.TemplateID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	data, err := BuildContext(ctx, o.repo, reg, req.Variables)
	if err != nil {
		return nil, err
	}
	text, err := Render(tmpl, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRender, "render_failed", err)
	}

	phone := whatsapp.NormalizePhoneNumber(reg.Guest.Phone)
	if phone == "" {
		return nil, apperr.New(apperr.KindNoRecipient, "guest_has_no_phone")
	}

	logger := o.log.With().
		Str("registration_id", reg.ID).
		Str("template_id", tmpl.ID).
		Logger()

	// responded_on is the only inbound contact time recorded for a guest.
	if o.window.WithinWindow(reg.RespondedOn) {
		msgID, err := o.sender.SendFreeformText(ctx, phone, text)
		if err != nil {
			logger.Error().Err(err).Msg("Free-form send failed")
			return nil, apperr.Wrap(apperr.KindSend, "send_failed", err)
		}
		logger.Info().Str("message_id", msgID).Msg("Sent free-form message")
		return &Result{Status: StatusSent, MessageID: msgID}, nil
	}

	queued := models.QueuedMessage{
		ID:             uuid.NewString(),
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		TemplateID:     tmpl.ID,
		RenderedText:   text,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.repo.AddQueuedMessage(ctx, queued); err != nil {
		logger.Error().Err(err).Msg("Queue insert failed")
		return nil, apperr.Wrap(apperr.KindQueue, "queue_failed", err)
	}

	openerID, err := o.sender.SendResumeOpener(ctx, phone, reg.ID)
	if err != nil {
		logger.Error().Err(err).Str("queued_message_id", queued.ID).Msg("Opener send failed")
		return nil, apperr.Wrap(apperr.KindSend, "opener_failed", err)
	}
	logger.Info().
		Str("queued_message_id", queued.ID).
		Str("opener_message_id", openerID).
		Msg("Queued message and sent opener")
	return &Result{Status: StatusQueued, MessageID: openerID, QueuedMessageID: queued.ID}, nil
}
