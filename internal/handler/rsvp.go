package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/models"
	"event-whatsapp/internal/rsvp"
	"event-whatsapp/internal/whatsapp"
)

// ReplyHandler applies an inbound RSVP
type ReplyHandler interface {
	HandleReply(ctx context.Context, r rsvp.Reply) (*models.Registration, error)
}

// TextSender sends a plain WhatsApp message
type TextSender interface {
	SendFreeformText(ctx context.Context, phoneNumber, text string) (string, error)
}

// RSVPHandler turns free-text WhatsApp replies into RSVP updates
type RSVPHandler struct {
	replies ReplyHandler
	sender  TextSender
	log     zerolog.Logger
}

// NewRSVPHandler creates a new RSVP handler
func NewRSVPHandler(replies ReplyHandler, sender TextSender, logger zerolog.Logger) *RSVPHandler {
	return &RSVPHandler{
		replies: replies,
		sender:  sender,
		log:     logger.With().Str("component", "rsvp_handler").Logger(),
	}
}

// HandleMessage processes incoming WhatsApp messages for RSVP responses
func (h *RSVPHandler) HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	status, ok := rsvp.ParseReplyText(msg.Text)
	if !ok {
		// Not a clear RSVP response, ignore
		return nil
	}

	respondedOn := ""
	if !msg.Timestamp.IsZero() {
		respondedOn = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	reg, err := h.replies.HandleReply(ctx, rsvp.Reply{
		Status:      string(status),
		WaID:        msg.Sender,
		RespondedOn: respondedOn,
	})
	if err != nil {
		// Only guests we have messaged can RSVP this way
		if errors.Is(err, &apperr.Error{Kind: apperr.KindNoMapping}) || errors.Is(err, &apperr.Error{Kind: apperr.KindMissingIdentity}) {
			h.log.Debug().Str("sender", msg.Sender).Msg("Ignoring reply from unknown number")
			return nil
		}
		return fmt.Errorf("failed to update RSVP: %w", err)
	}

	if _, err := h.sender.SendFreeformText(ctx, msg.Sender, confirmation(reg.RSVPStatus)); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}
	return nil
}

func confirmation(status models.RSVPStatus) string {
	switch status {
	case models.RSVPYes:
		return "🎉 Wonderful! We've confirmed your attendance. See you there!"
	case models.RSVPNo:
		return "Thank you for letting us know. We're sorry you won't be able to join us."
	default:
		return "Thanks! We've noted that you might come. Reply YES or NO once you know."
	}
}
