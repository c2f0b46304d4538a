package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/notify"
	"event-whatsapp/internal/outbound"
	"event-whatsapp/internal/rsvp"
	"event-whatsapp/internal/sendmap"
)

// TokenHeader carries the shared webhook secret
const TokenHeader = "X-Webhook-Token"

// SendTracker records outbound sends
type SendTracker interface {
	RecordSend(ctx context.Context, send sendmap.Send) (string, error)
}

// TemplateSender sends a rendered template to a registration
type TemplateSender interface {
	SendLocalTemplate(ctx context.Context, req outbound.Request) (*outbound.Result, error)
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP surface fronts. Updates may be nil, in
// which case the live update stream is not served.
type Deps struct {
	Tracker   SendTracker
	Replies   ReplyHandler
	Templates TemplateSender
	Updates   notify.Subscriber
	Health    Pinger
}

// Server exposes the webhooks and the send-template API over HTTP
type Server struct {
	deps   Deps
	secret string
	log    zerolog.Logger
	engine *gin.Engine
}

// NewServer builds the router. Webhooks are rejected unless secret is set
// and matches the request's token header.
func NewServer(deps Deps, secret string, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		secret: strings.TrimSpace(secret),
		log:    logger.With().Str("component", "http").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)

	hooks := r.Group("/webhooks/whatsapp", s.requireToken())
	{
		hooks.POST("/track-send", s.trackSend)
		hooks.POST("/rsvp", s.whatsappRSVP)
	}

	api := r.Group("/api/events/:event_id")
	{
		api.POST("/registrations/:registration_id/send-template", s.sendTemplate)
		if deps.Updates != nil {
			api.GET("/updates", s.streamUpdates)
		}
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(TokenHeader))
		if s.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			s.writeError(c, apperr.New(apperr.KindAuth, "invalid token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Error()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

// maxBodyBytes caps webhook and API request bodies
const maxBodyBytes = 64 << 10

// bindJSON decodes the body into v. Oversized, malformed and non-object
// bodies are validation errors.
func (s *Server) bindJSON(c *gin.Context, v any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("Rejected request body")
		return apperr.New(apperr.KindValidation, "invalid json")
	}
	return nil
}

// flexID accepts ids sent as JSON strings or numbers
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = flexID(n.String())
	return nil
}

type trackSendRequest struct {
	WaID           flexID `json:"wa_id"`
	EventID        flexID `json:"event_id"`
	RegistrationID flexID `json:"event_registration_id"`
	TemplateWamid  flexID `json:"template_wamid"`
}

func (s *Server) trackSend(c *gin.Context) {
	var req trackSendRequest
	if err := s.bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}

	s.log.Info().
		Str("wa_id", string(req.WaID)).
		Str("event_id", string(req.EventID)).
		Str("registration_id", string(req.RegistrationID)).
		Msg("track_send")

	id, err := s.deps.Tracker.RecordSend(c.Request.Context(), sendmap.Send{
		WaID:           string(req.WaID),
		EventID:        string(req.EventID),
		RegistrationID: string(req.RegistrationID),
		TemplateWamid:  string(req.TemplateWamid),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "map_id": id})
}

type rsvpRequest struct {
	RSVPStatus     string `json:"rsvp_status"`
	RespondedOn    string `json:"responded_on"`
	RegistrationID flexID `json:"event_registration_id"`
	WaID           flexID `json:"wa_id"`
	TemplateWamid  flexID `json:"template_wamid"`
	EventID        flexID `json:"event_id"`
}

func (s *Server) whatsappRSVP(c *gin.Context) {
	var req rsvpRequest
	if err := s.bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}

	reg, err := s.deps.Replies.HandleReply(c.Request.Context(), rsvp.Reply{
		Status:         req.RSVPStatus,
		RespondedOn:    req.RespondedOn,
		RegistrationID: string(req.RegistrationID),
		WaID:           string(req.WaID),
		TemplateWamid:  string(req.TemplateWamid),
		EventID:        string(req.EventID),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	var respondedOn *string
	if reg.RespondedOn != nil {
		v := reg.RespondedOn.UTC().Format(time.RFC3339Nano)
		respondedOn = &v
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"id":           reg.ID,
		"event":        reg.EventID,
		"guest":        reg.GuestID,
		"rsvp_status":  reg.RSVPStatus,
		"responded_on": respondedOn,
	})
}

type sendTemplateRequest struct {
	TemplateID flexID         `json:"template_id"`
	Variables  map[string]any `json:"variables"`
}

func (s *Server) sendTemplate(c *gin.Context) {
	var req sendTemplateRequest
	if err := s.bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	if req.TemplateID == "" {
		s.writeError(c, apperr.New(apperr.KindValidation, "template_id is required"))
		return
	}

	res, err := s.deps.Templates.SendLocalTemplate(c.Request.Context(), outbound.Request{
		EventID:        c.Param("event_id"),
		RegistrationID: c.Param("registration_id"),
		TemplateID:     string(req.TemplateID),
		Variables:      req.Variables,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	if res.Status == outbound.StatusSent {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": res.Status, "message_id": res.MessageID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"status":            res.Status,
		"opener_message_id": res.MessageID,
		"queued_message_id": res.QueuedMessageID,
	})
}

func (s *Server) streamUpdates(c *gin.Context) {
	ctx := c.Request.Context()
	msgs, cancel, err := s.deps.Updates.Subscribe(ctx, c.Param("event_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, msg)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

var _ ReplyHandler = (*rsvp.Flow)(nil)
