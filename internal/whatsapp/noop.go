package whatsapp

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogSender stands in for the WhatsApp connection when it is disabled. It
// logs each message and reports a synthetic message id.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger.With().Str("component", "WhatsApp").Bool("dry_run", true).Logger()}
}

func (s *LogSender) SendFreeformText(_ context.Context, phoneNumber, text string) (string, error) {
	id := "dry-" + uuid.NewString()
	s.log.Info().Str("phone", NormalizePhoneNumber(phoneNumber)).Str("message_id", id).Str("text", text).Msg("Free-form message")
	return id, nil
}

func (s *LogSender) SendResumeOpener(_ context.Context, phoneNumber, registrationID string) (string, error) {
	id := "dry-" + uuid.NewString()
	s.log.Info().Str("phone", NormalizePhoneNumber(phoneNumber)).Str("message_id", id).Str("registration_id", registrationID).Msg("Resume opener")
	return id, nil
}
