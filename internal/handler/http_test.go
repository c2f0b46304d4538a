package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"event-whatsapp/internal/models"
	"event-whatsapp/internal/notify"
	"event-whatsapp/internal/outbound"
	"event-whatsapp/internal/resolver"
	"event-whatsapp/internal/rsvp"
	"event-whatsapp/internal/sendmap"
	"event-whatsapp/internal/storage"
	"event-whatsapp/internal/window"
)

const secret = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSender struct {
	freeform []string
	openers  []string
	err      error
}

func (f *fakeSender) SendFreeformText(_ context.Context, phone, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.freeform = append(f.freeform, text)
	return "wamid.free", nil
}

func (f *fakeSender) SendResumeOpener(_ context.Context, phone, registrationID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.openers = append(f.openers, registrationID)
	return "wamid.opener", nil
}

type env struct {
	store  *storage.Storage
	hub    *notify.Hub
	sender *fakeSender
	maps   *sendmap.Store
	srv    *Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.AddEvent(ctx, models.Event{ID: "E1", Name: "Spring Gala"}))
	must(s.AddEvent(ctx, models.Event{ID: "E2", Name: "Summer Picnic"}))
	must(s.AddGuest(ctx, models.Guest{ID: "G1", Name: "Dana", Phone: "15551234567"}))
	must(s.AddRegistration(ctx, models.Registration{ID: "R1", EventID: "E1", GuestID: "G1"}))
	must(s.AddRegistration(ctx, models.Registration{ID: "R2", EventID: "E2", GuestID: "G1"}))
	must(s.AddTemplate(ctx, models.MessageTemplate{ID: "T1", Name: "reminder", Body: "Hi {{.guest_name}}, {{.note}}"}))

	logger := zerolog.Nop()
	hub := notify.NewHub()
	sender := &fakeSender{}
	maps := sendmap.NewStore(s, logger)
	flow := rsvp.NewFlow(resolver.New(s, logger), rsvp.NewUpdater(s, hub, logger), maps, logger)
	orch := outbound.NewOrchestrator(s, sender, window.New(window.DefaultDuration), logger)

	srv := NewServer(Deps{
		Tracker:   maps,
		Replies:   flow,
		Templates: orch,
		Updates:   hub,
		Health:    s,
	}, secret, logger)

	return &env{store: s, hub: hub, sender: sender, maps: maps, srv: srv}
}

func (e *env) do(t *testing.T, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", rec.Body.String())
	}
	return rec, out
}

func TestRSVPWebhookResolvesThroughSendMap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.maps.RecordSend(ctx, sendmap.Send{WaID: "15551234567", EventID: "E1", RegistrationID: "R1"}); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	updates, cancel, err := e.hub.Subscribe(ctx, "E1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	rec, body := e.do(t, "/webhooks/whatsapp/rsvp", secret,
		`{"wa_id":"+1 (555) 123-4567","rsvp_status":"yes","event_id":"E1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["id"] != "R1" || body["event"] != "E1" || body["guest"] != "G1" || body["rsvp_status"] != "yes" {
		t.Errorf("body = %v", body)
	}
	if _, err := time.Parse(time.RFC3339Nano, body["responded_on"].(string)); err != nil {
		t.Errorf("responded_on = %v: %v", body["responded_on"], err)
	}

	reg, err := e.store.GetRegistration(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if reg.RSVPStatus != models.RSVPYes {
		t.Errorf("stored status = %q", reg.RSVPStatus)
	}

	maps, err := e.store.LiveSendMaps(ctx, "15551234567", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 1 || maps[0].ConsumedAt == nil {
		t.Errorf("mapping not consumed: %+v", maps)
	}

	select {
	case msg := <-updates:
		if msg.Type != "rsvp_update" || msg.Data.Action != "updated" || msg.Data.Registration.ID != "R1" || msg.Data.Registration.RSVPStatus != "yes" {
			t.Errorf("update = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published to event_E1")
	}
}

func TestRSVPWebhookExplicitRegistration(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, "/webhooks/whatsapp/rsvp", secret,
		`{"event_registration_id":"R2","rsvp_status":"No","responded_on":"2026-02-28T10:00:00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["id"] != "R2" || body["rsvp_status"] != "no" || body["responded_on"] != "2026-02-28T10:00:00Z" {
		t.Errorf("body = %v", body)
	}
}

func TestRSVPWebhookClientErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"rsvp_status":`, "invalid json"},
		{"not an object", `["yes"]`, "invalid json"},
		{"oversized body", `{"rsvp_status":"yes","note":"` + strings.Repeat("x", maxBodyBytes) + `"}`, "invalid json"},
		{"invalid status", `{"rsvp_status":"attending","event_registration_id":"R1"}`, "invalid rsvp_status"},
		{"unknown registration", `{"rsvp_status":"yes","event_registration_id":"R9"}`, "registration not found"},
		{"missing identity", `{"rsvp_status":"yes"}`, "missing wa_id"},
		{"no mapping", `{"rsvp_status":"yes","wa_id":"15551234567"}`, "no mapping found for wa_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			rec, body := e.do(t, "/webhooks/whatsapp/rsvp", secret, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body["ok"] != false || body["error"] != tt.want {
				t.Errorf("body = %v, want error %q", body, tt.want)
			}
		})
	}
}

func TestWebhooksRejectBadToken(t *testing.T) {
	tests := []struct {
		name, path, token, body string
	}{
		{"rsvp missing token", "/webhooks/whatsapp/rsvp", "", `{"event_registration_id":"R1","rsvp_status":"yes"}`},
		{"rsvp wrong token", "/webhooks/whatsapp/rsvp", "nope", `{"event_registration_id":"R1","rsvp_status":"yes"}`},
		{"track missing token", "/webhooks/whatsapp/track-send", "", `{"wa_id":"15551234567","event_id":"E1"}`},
		{"track wrong token", "/webhooks/whatsapp/track-send", "s3cret-ish", `{"wa_id":"15551234567","event_id":"E1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			rec, _ := e.do(t, tt.path, tt.token, tt.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", rec.Code)
			}

			reg, err := e.store.GetRegistration(context.Background(), "R1")
			if err != nil {
				t.Fatal(err)
			}
			if reg.RSVPStatus != models.RSVPUnset || reg.RespondedOn != nil {
				t.Errorf("registration mutated: %+v", reg)
			}
			maps, err := e.store.LiveSendMaps(context.Background(), "15551234567", time.Now())
			if err != nil {
				t.Fatal(err)
			}
			if len(maps) != 0 {
				t.Errorf("send map created: %+v", maps)
			}
		})
	}
}

func TestWebhooksRejectWhenSecretUnset(t *testing.T) {
	e := newEnv(t)
	e.srv = NewServer(e.srv.deps, "  ", zerolog.Nop())
	rec, _ := e.do(t, "/webhooks/whatsapp/rsvp", "", `{"event_registration_id":"R1","rsvp_status":"yes"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTrackSend(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, "/webhooks/whatsapp/track-send", secret,
		`{"wa_id":"+1 555-123-4567","event_id":"E2","event_registration_id":"R2","template_wamid":"wamid.X"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["ok"] != true || body["map_id"] == "" {
		t.Errorf("body = %v", body)
	}

	maps, err := e.store.LiveSendMaps(context.Background(), "15551234567", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 1 || maps[0].ID != body["map_id"] || maps[0].TemplateWamid != "wamid.X" || maps[0].RegistrationID != "R2" {
		t.Errorf("maps = %+v", maps)
	}

	rec, body = e.do(t, "/webhooks/whatsapp/track-send", secret, `{"event_id":"E1"}`)
	if rec.Code != http.StatusBadRequest || body["error"] != "missing wa_id or event_id" {
		t.Errorf("status = %d, body = %v", rec.Code, body)
	}
}

func TestTrackSendAcceptsNumericIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.AddEvent(ctx, models.Event{ID: "42", Name: "Numbered"}); err != nil {
		t.Fatal(err)
	}
	if err := e.store.AddRegistration(ctx, models.Registration{ID: "7", EventID: "42", GuestID: "G1"}); err != nil {
		t.Fatal(err)
	}
	rec, body := e.do(t, "/webhooks/whatsapp/track-send", secret,
		`{"wa_id":15551234567,"event_id":42,"event_registration_id":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestSendTemplateQueuesOutsideWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	stale := time.Now().Add(-25 * time.Hour)
	if _, err := e.store.UpdateRSVP(ctx, "R1", models.RSVPYes, stale); err != nil {
		t.Fatal(err)
	}

	rec, body := e.do(t, "/api/events/E1/registrations/R1/send-template", "",
		`{"template_id":"T1","variables":{"note":"doors open at 7"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["ok"] != true || body["status"] != "queued" || body["opener_message_id"] != "wamid.opener" {
		t.Errorf("body = %v", body)
	}

	queued, err := e.store.QueuedMessages(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].RenderedText != "Hi Dana, doors open at 7" {
		t.Errorf("queued = %+v", queued)
	}
	if len(e.sender.freeform) != 0 || len(e.sender.openers) != 1 {
		t.Errorf("freeform = %v, openers = %v", e.sender.freeform, e.sender.openers)
	}
}

func TestSendTemplateSendsInsideWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.store.UpdateRSVP(ctx, "R1", models.RSVPYes, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec, body := e.do(t, "/api/events/E1/registrations/R1/send-template", "",
		`{"template_id":"T1","variables":{"note":"see you soon"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["status"] != "sent" || body["message_id"] != "wamid.free" {
		t.Errorf("body = %v", body)
	}
	if len(e.sender.freeform) != 1 || e.sender.freeform[0] != "Hi Dana, see you soon" {
		t.Errorf("freeform = %v", e.sender.freeform)
	}
}

func TestSendTemplateErrors(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		sendErr   error
		inWindow  bool
		want      int
		wantError string
	}{
		{"missing template id", "/api/events/E1/registrations/R1/send-template", `{}`, nil, false, http.StatusBadRequest, "template_id is required"},
		{"wrong event", "/api/events/E2/registrations/R1/send-template", `{"template_id":"T1","variables":{"note":"x"}}`, nil, false, http.StatusBadRequest, "registration not found"},
		{"render failure", "/api/events/E1/registrations/R1/send-template", `{"template_id":"T1"}`, nil, false, http.StatusBadRequest, ""},
		{"gateway failure", "/api/events/E1/registrations/R1/send-template", `{"template_id":"T1","variables":{"note":"x"}}`, errors.New("socket closed"), true, http.StatusBadGateway, "send_failed: socket closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.sender.err = tt.sendErr
			if tt.inWindow {
				if _, err := e.store.UpdateRSVP(context.Background(), "R1", models.RSVPYes, time.Now()); err != nil {
					t.Fatal(err)
				}
			}
			rec, body := e.do(t, tt.path, "", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.want, body)
			}
			if body["ok"] != false {
				t.Errorf("body = %v", body)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
