package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"visadesk/internal/domain"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNotificationBus_PublishAndReceive(t *testing.T) {
	b := New(testBusLogger())

	var received int32
	b.Subscribe(func(e domain.InboundEvent) {
		atomic.AddInt32(&received, 1)
	})

	b.Publish(domain.Ping{})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestNotificationBus_DeliversInPublishOrder(t *testing.T) {
	b := New(testBusLogger())

	var got []string
	b.Subscribe(func(e domain.InboundEvent) {
		got = append(got, e.(domain.ChatMessageEvent).ID)
	})

	for _, id := range []string{"m1", "m2", "m3"} {
		b.Publish(domain.ChatMessageEvent{ID: id})
	}

	if len(got) != 3 || got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("expected [m1 m2 m3], got %v", got)
	}
}

func TestNotificationBus_Unsubscribe(t *testing.T) {
	b := New(testBusLogger())

	var count int32
	unsubscribe := b.Subscribe(func(e domain.InboundEvent) {
		atomic.AddInt32(&count, 1)
	})

	b.Publish(domain.Ping{})
	unsubscribe()
	unsubscribe()
	b.Publish(domain.Ping{})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("expected no subscribers, got %d", b.SubscriberCount())
	}
}

func TestNotificationBus_LateSubscriberGetsNoHistory(t *testing.T) {
	b := New(testBusLogger())
	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 7}})

	var count int32
	b.Subscribe(func(e domain.InboundEvent) {
		atomic.AddInt32(&count, 1)
	})

	if atomic.LoadInt32(&count) != 0 {
		t.Fatalf("late subscriber should not receive earlier events, got %d", count)
	}
	last, ok := b.Last().(domain.LeadAssignedEvent)
	if !ok || last.Lead.ID != 7 {
		t.Fatalf("expected last event to be lead 7, got %#v", b.Last())
	}
}

func TestNotificationBus_MultipleSubscribers(t *testing.T) {
	b := New(testBusLogger())

	var count int32
	b.Subscribe(func(e domain.InboundEvent) { atomic.AddInt32(&count, 1) })
	b.Subscribe(func(e domain.InboundEvent) { atomic.AddInt32(&count, 1) })
	b.Subscribe(func(e domain.InboundEvent) { atomic.AddInt32(&count, 1) })

	b.Publish(domain.Pong{})

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("expected 3 handlers called, got %d", count)
	}
}

func TestNotificationBus_PanicRecovery(t *testing.T) {
	b := New(testBusLogger())

	var after int32
	b.Subscribe(func(e domain.InboundEvent) {
		panic("test panic")
	})
	b.Subscribe(func(e domain.InboundEvent) {
		atomic.AddInt32(&after, 1)
	})

	// Should not panic the caller
	b.Publish(domain.Ping{})

	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("subscriber after a panicking one should still be called")
	}
}

func TestNotificationBus_UnsubscribeDuringPublish(t *testing.T) {
	b := New(testBusLogger())

	var unsubscribe func()
	var count int32
	unsubscribe = b.Subscribe(func(e domain.InboundEvent) {
		atomic.AddInt32(&count, 1)
		unsubscribe()
	})

	b.Publish(domain.Ping{})
	b.Publish(domain.Ping{})

	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
}

func TestNotificationBus_StateTransitions(t *testing.T) {
	b := New(testBusLogger())

	if b.State() != domain.Disconnected {
		t.Fatalf("expected initial state disconnected, got %s", b.State())
	}

	var seen []domain.ConnectionState
	off := b.OnState(func(s domain.ConnectionState) {
		seen = append(seen, s)
	})

	b.SetState(domain.Connecting)
	b.SetState(domain.Connecting)
	b.SetState(domain.Connected)
	off()
	b.SetState(domain.Disconnected)

	if len(seen) != 2 || seen[0] != domain.Connecting || seen[1] != domain.Connected {
		t.Fatalf("expected [connecting connected], got %v", seen)
	}
	if b.State() != domain.Disconnected {
		t.Fatalf("expected disconnected, got %s", b.State())
	}
}

func TestNotificationBus_NilEventIgnored(t *testing.T) {
	b := New(testBusLogger())
	var count int32
	b.Subscribe(func(e domain.InboundEvent) { atomic.AddInt32(&count, 1) })

	b.Publish(nil)

	if atomic.LoadInt32(&count) != 0 || b.Last() != nil {
		t.Fatal("nil event should be ignored")
	}
}
