package realtime

import (
	"errors"
	"testing"
	"time"

	"visadesk/internal/domain"
)

func TestDecodeFrame_ControlFrames(t *testing.T) {
	now := time.Now()
	for frame, want := range map[string]string{
		`{"type":"connection.established","message":"hello"}`: domain.EventConnectionEstablished,
		`{"type":"ping"}`: domain.EventPing,
		`{"type":"pong"}`: domain.EventPong,
	} {
		ev, err := DecodeFrame([]byte(frame), now)
		if err != nil {
			t.Fatalf("%s: %v", frame, err)
		}
		if ev.EventType() != want {
			t.Fatalf("%s: expected %s, got %s", frame, want, ev.EventType())
		}
	}
}

func TestDecodeFrame_ChatMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev, err := DecodeFrame([]byte(`{"type":"whatsapp.message","message":{
		"id":"wamid.1","content":"Is my visa ready?","phone_number":"+91 98765-43210",
		"chat_name":"Ana","timestamp":"2024-03-01T09:59:58Z","is_from_customer":true}}`), now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := ev.(domain.ChatMessageEvent)
	if !ok {
		t.Fatalf("expected ChatMessageEvent, got %T", ev)
	}
	if msg.ID != "wamid.1" || msg.PhoneNumber != "+91 98765-43210" || !msg.IsFromCustomer || !msg.ReceivedAt.Equal(now) {
		t.Fatalf("unexpected event %+v", msg)
	}

	cm := msg.Message("fallback")
	if cm.Sender == nil || cm.Sender.Name != "Ana" || cm.IsFromOperator {
		t.Fatalf("unexpected conversation message %+v", cm)
	}
}

func TestDecodeFrame_LeadAssignedKeepsExtraFields(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"lead.assigned","lead":{"id":12,"name":"Ravi","email":"ravi@example.com","source":"web","status":{"id":1}}}`), time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	la, ok := ev.(domain.LeadAssignedEvent)
	if !ok {
		t.Fatalf("expected LeadAssignedEvent, got %T", ev)
	}
	if la.Lead.ID != 12 || la.Lead.Name != "Ravi" || la.Lead.Email != "ravi@example.com" {
		t.Fatalf("unexpected lead %+v", la.Lead)
	}
	if la.Lead.Extra["source"] != "web" {
		t.Fatalf("expected extra source=web, got %v", la.Lead.Extra)
	}
	if _, dup := la.Lead.Extra["id"]; dup {
		t.Fatal("typed fields must not be repeated in Extra")
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"type":"typing"}`,
		`{"type":"whatsapp.message"}`,
		`{"type":"whatsapp.message","message":"text"}`,
		`{"type":"lead.assigned"}`,
		`{"type":"lead.assigned","lead":{"id":"abc"}}`,
	} {
		_, err := DecodeFrame([]byte(frame), time.Now())
		if !errors.Is(err, domain.ErrMalformedFrame) {
			t.Errorf("%s: expected ErrMalformedFrame, got %v", frame, err)
		}
	}
}

func TestEncodeControl(t *testing.T) {
	if got := string(encodeControl(domain.EventPong)); got != `{"type":"pong"}` {
		t.Fatalf("unexpected %s", got)
	}
}
