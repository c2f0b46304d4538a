package rsvp

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/apperr"
	"event-whatsapp/internal/models"
	"event-whatsapp/internal/resolver"
	"event-whatsapp/internal/sendmap"
)

type stubResolver struct {
	calls int
	got   resolver.Query
	reg   *models.Registration
	err   error
}

func (s *stubResolver) Resolve(_ context.Context, q resolver.Query) (*models.Registration, error) {
	s.calls++
	s.got = q
	return s.reg, s.err
}

type stubConsumer struct {
	got []sendmap.Reply
	err error
}

func (s *stubConsumer) MarkConsumed(_ context.Context, r sendmap.Reply) (int64, error) {
	s.got = append(s.got, r)
	if s.err != nil {
		return 0, s.err
	}
	return 1, nil
}

func TestHandleReply(t *testing.T) {
	repo := newMemRepo()
	reg := repo.regs["R1"]
	res := &stubResolver{reg: &reg}
	consumer := &stubConsumer{}
	pub := &recordingPublisher{}
	flow := NewFlow(res, newUpdater(repo, pub), consumer, zerolog.Nop())

	got, err := flow.HandleReply(context.Background(), Reply{
		Status:        "Yes",
		WaID:          "+1 (555) 123-4567",
		EventID:       "E1",
		TemplateWamid: "wamid.A",
		RespondedOn:   "2026-02-28T10:00:00",
	})
	if err != nil {
		t.Fatalf("HandleReply: %v", err)
	}
	if got.RSVPStatus != models.RSVPYes {
		t.Errorf("status = %q", got.RSVPStatus)
	}
	if got.RespondedOn == nil || got.RespondedOn.Hour() != 10 {
		t.Errorf("RespondedOn = %v", got.RespondedOn)
	}
	if res.got.WaID != "+1 (555) 123-4567" || res.got.TemplateWamid != "wamid.A" || res.got.EventID != "E1" {
		t.Errorf("resolver query = %+v", res.got)
	}
	want := sendmap.Reply{RegistrationID: "R1", WaID: "+1 (555) 123-4567", EventID: "E1", TemplateWamid: "wamid.A"}
	if len(consumer.got) != 1 || consumer.got[0] != want {
		t.Errorf("consumed = %+v, want %+v", consumer.got, want)
	}
	if len(pub.msgs["event_E1"]) != 1 {
		t.Errorf("published %d messages", len(pub.msgs["event_E1"]))
	}
}

func TestHandleReplyValidatesStatusFirst(t *testing.T) {
	res := &stubResolver{}
	flow := NewFlow(res, newUpdater(newMemRepo(), nil), &stubConsumer{}, zerolog.Nop())

	_, err := flow.HandleReply(context.Background(), Reply{Status: "perhaps", RegistrationID: "R1"})
	if kind := apperr.KindOf(err); kind != apperr.KindInvalidStatus {
		t.Fatalf("kind = %s, want invalid_status", kind)
	}
	if res.calls != 0 {
		t.Errorf("resolver called %d times", res.calls)
	}
}

func TestHandleReplyResolutionError(t *testing.T) {
	repo := newMemRepo()
	res := &stubResolver{err: apperr.New(apperr.KindNoMapping, "no mapping found for wa_id")}
	consumer := &stubConsumer{}
	flow := NewFlow(res, newUpdater(repo, nil), consumer, zerolog.Nop())

	_, err := flow.HandleReply(context.Background(), Reply{Status: "no", WaID: "15551234567"})
	if kind := apperr.KindOf(err); kind != apperr.KindNoMapping {
		t.Fatalf("kind = %s, want no_mapping", kind)
	}
	if repo.updates != 0 || len(consumer.got) != 0 {
		t.Errorf("unexpected side effects: updates=%d consumed=%d", repo.updates, len(consumer.got))
	}
}

func TestHandleReplyIgnoresConsumeFailure(t *testing.T) {
	repo := newMemRepo()
	reg := repo.regs["R1"]
	consumer := &stubConsumer{err: errors.New("database is locked")}
	flow := NewFlow(&stubResolver{reg: &reg}, newUpdater(repo, nil), consumer, zerolog.Nop())

	got, err := flow.HandleReply(context.Background(), Reply{Status: "maybe", RegistrationID: "R1"})
	if err != nil {
		t.Fatalf("HandleReply: %v", err)
	}
	if got.RSVPStatus != models.RSVPMaybe {
		t.Errorf("status = %q", got.RSVPStatus)
	}
	if len(consumer.got) != 1 {
		t.Errorf("consumer called %d times", len(consumer.got))
	}
}
