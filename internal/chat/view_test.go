package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"visadesk/internal/bus"
	"visadesk/internal/domain"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	echo  domain.ConversationMessage
	err   error
}

func (f *fakeSender) SendMessage(ctx context.Context, phone, text string) (domain.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phone+"|"+text)
	return f.echo, f.err
}

func TestView_OpenLoadsAndIngestsMatchingPushes(t *testing.T) {
	b := bus.New(testLogger())
	h := &fakeHistory{pages: [][]domain.ConversationMessage{{msg("a", "hello", at("10:00"))}}}

	var changes int32
	v := NewView(b, h, &fakeSender{}, 50, ViewHooks{OnChange: func(Peer) { atomic.AddInt32(&changes, 1) }}, testLogger())
	defer v.Close()

	if _, err := v.Open(context.Background(), testPeer); err != nil {
		t.Fatalf("open: %v", err)
	}

	b.Publish(push("b", "live", at("10:01")))
	other := push("x", "elsewhere", at("10:02"))
	other.PhoneNumber = "+44 20 7946 0000"
	b.Publish(other)
	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 1}})

	got := ids(v.Messages())
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
	if atomic.LoadInt32(&changes) != 2 {
		t.Fatalf("expected 2 change callbacks, got %d", changes)
	}
}

func TestView_SwitchingPeerResetsConversation(t *testing.T) {
	b := bus.New(testLogger())
	h := &fakeHistory{pages: [][]domain.ConversationMessage{
		{msg("a", "hello", at("10:00"))},
		{},
	}}
	v := NewView(b, h, &fakeSender{}, 50, ViewHooks{}, testLogger())
	defer v.Close()

	v.Open(context.Background(), testPeer)
	other := Peer{ID: "43", Name: "Ravi", PhoneNumber: "+1 555 010 9999"}
	if _, err := v.Open(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	if len(v.Messages()) != 0 {
		t.Fatalf("new conversation must start empty, got %v", ids(v.Messages()))
	}
	b.Publish(push("late", "for ana", at("10:05")))
	if len(v.Messages()) != 0 {
		t.Fatal("push for the previous peer must not leak into the new conversation")
	}
	if p, _ := v.Peer(); p.ID != "43" {
		t.Fatalf("expected active peer 43, got %s", p.ID)
	}
}

func TestView_StaleLoadAfterSwitchIsDiscarded(t *testing.T) {
	b := bus.New(testLogger())
	slow := &fakeHistory{
		pages: [][]domain.ConversationMessage{{msg("old", "stale", at("09:00"))}},
		gate:  make(chan struct{}),
	}
	v := NewView(b, slow, &fakeSender{}, 50, ViewHooks{}, testLogger())
	defer v.Close()

	done := make(chan error, 1)
	go func() {
		_, err := v.Open(context.Background(), testPeer)
		done <- err
	}()
	for {
		slow.mu.Lock()
		n := len(slow.queries)
		slow.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Switch while the first page is in flight.
	v.mu.Lock()
	first := v.active
	v.mu.Unlock()
	first.Close()
	v.mu.Lock()
	v.active = NewReconciler(Peer{ID: "43", PhoneNumber: "5550109999"}, &fakeHistory{}, 50, testLogger())
	v.mu.Unlock()

	close(slow.gate)
	if err := <-done; !errors.Is(err, domain.ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
	if len(v.Messages()) != 0 {
		t.Fatal("stale page leaked into the new conversation")
	}
}

func TestView_LoadFailureRaisesNotice(t *testing.T) {
	b := bus.New(testLogger())
	h := &fakeHistory{err: errors.New("timeout")}

	var notices []Notice
	v := NewView(b, h, &fakeSender{}, 50, ViewHooks{OnNotice: func(n Notice) { notices = append(notices, n) }}, testLogger())
	defer v.Close()

	_, err := v.Open(context.Background(), testPeer)
	if !errors.Is(err, domain.ErrHistoryFetch) {
		t.Fatalf("expected ErrHistoryFetch, got %v", err)
	}
	if len(notices) != 1 || !errors.Is(notices[0].Err, domain.ErrHistoryFetch) {
		t.Fatalf("expected one history notice, got %+v", notices)
	}
	if len(h.queries) != 1 {
		t.Fatalf("history must not be retried automatically, got %d queries", len(h.queries))
	}
}

func TestView_LoadOlderStopsWhenNoMore(t *testing.T) {
	b := bus.New(testLogger())
	h := &fakeHistory{pages: [][]domain.ConversationMessage{makePage(10, time.Now())}}
	v := NewView(b, h, &fakeSender{}, 50, ViewHooks{}, testLogger())
	defer v.Close()

	v.Open(context.Background(), testPeer)
	if _, err := v.LoadOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.queries) != 1 {
		t.Fatalf("short page means no further requests, got %d", len(h.queries))
	}
}

func TestView_SendRequiresConnection(t *testing.T) {
	b := bus.New(testLogger())
	s := &fakeSender{}
	v := NewView(b, &fakeHistory{}, s, 50, ViewHooks{}, testLogger())
	defer v.Close()
	v.Open(context.Background(), testPeer)

	for _, st := range []domain.ConnectionState{domain.Disconnected, domain.Connecting} {
		b.SetState(st)
		if v.CanSend() {
			t.Fatalf("must not send while %s", st)
		}
		if _, err := v.Send(context.Background(), "hi"); !errors.Is(err, domain.ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected while %s, got %v", st, err)
		}
	}
	if len(s.calls) != 0 {
		t.Fatal("sender must not be called while disconnected")
	}
}

func TestView_SendMergesEchoOnce(t *testing.T) {
	b := bus.New(testLogger())
	b.SetState(domain.Connected)
	s := &fakeSender{echo: domain.ConversationMessage{
		ID:             "wamid.9",
		Content:        "Your visa is approved",
		Sender:         &domain.Sender{Name: "Desk"},
		Timestamp:      at("10:10"),
		IsFromOperator: true,
	}}
	v := NewView(b, &fakeHistory{}, s, 50, ViewHooks{}, testLogger())
	defer v.Close()
	v.Open(context.Background(), testPeer)

	out, err := v.Send(context.Background(), "Your visa is approved")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Kind != Appended {
		t.Fatalf("expected appended echo, got %s", out)
	}
	if s.calls[0] != "+91 98765 43210|Your visa is approved" {
		t.Fatalf("unexpected send call %q", s.calls[0])
	}

	// The same message pushed back over the socket is a duplicate.
	echoPush := push("wamid.9", "Your visa is approved", at("10:10"))
	echoPush.IsFromCustomer = false
	b.Publish(echoPush)
	if n := len(v.Messages()); n != 1 {
		t.Fatalf("expected a single bubble, got %d", n)
	}
}

func TestView_SendFailureIsSurfacedNotRetried(t *testing.T) {
	b := bus.New(testLogger())
	b.SetState(domain.Connected)
	s := &fakeSender{err: errors.New("outside 24h window")}

	var notices int32
	v := NewView(b, &fakeHistory{}, s, 50, ViewHooks{OnNotice: func(Notice) { atomic.AddInt32(&notices, 1) }}, testLogger())
	defer v.Close()
	v.Open(context.Background(), testPeer)

	_, err := v.Send(context.Background(), "hi")
	if !errors.Is(err, domain.ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if len(s.calls) != 1 || atomic.LoadInt32(&notices) != 1 {
		t.Fatalf("expected one attempt and one notice, got %d calls %d notices", len(s.calls), notices)
	}
	if len(v.Messages()) != 0 {
		t.Fatal("failed send must not add a message")
	}
}

func TestView_CloseUnsubscribes(t *testing.T) {
	b := bus.New(testLogger())
	v := NewView(b, &fakeHistory{}, &fakeSender{}, 50, ViewHooks{}, testLogger())
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}
	v.Close()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", b.SubscriberCount())
	}
	if _, err := v.LoadOlder(context.Background()); !errors.Is(err, domain.ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}
