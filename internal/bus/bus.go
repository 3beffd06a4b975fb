package bus

import (
	"log/slog"
	"sync"

	"visadesk/internal/domain"
)

// NotificationBus is a single-slot broadcast of inbound notification events
// plus the current connection state. Publish stores the event as the last
// event and calls every current subscriber synchronously, in subscription
// order, on the publisher's goroutine. Nothing is buffered or replayed.
type NotificationBus struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	nextID   uint64
	handlers []namedHandler
	watchers []namedStateHandler
	last     domain.InboundEvent
	state    domain.ConnectionState
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      uint64
	Handler func(domain.InboundEvent)
}

type namedStateHandler struct {
	ID      uint64
	Handler func(domain.ConnectionState)
}

var _ domain.EventBus = (*NotificationBus)(nil)

func New(logger *slog.Logger) *NotificationBus {
	return &NotificationBus{
		logger: logger,
		state:  domain.Disconnected,
	}
}

// Publish records event as the last event and delivers it to all subscribers.
func (b *NotificationBus) Publish(event domain.InboundEvent) {
	if event == nil {
		return
	}

	b.mu.Lock()
	b.last = event
	handlers := make([]namedHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "event", event.EventType(), "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Subscribe registers handler for future events. The returned func removes it
// and is safe to call more than once.
func (b *NotificationBus) Subscribe(handler func(domain.InboundEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, namedHandler{ID: id, Handler: handler})
	return func() { b.off(id) }
}

func (b *NotificationBus) off(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Last returns the most recently published event, or nil.
func (b *NotificationBus) Last() domain.InboundEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// SetState records a connection state and notifies state watchers when it changed.
func (b *NotificationBus) SetState(state domain.ConnectionState) {
	b.mu.Lock()
	if b.state == state {
		b.mu.Unlock()
		return
	}
	b.state = state
	watchers := make([]namedStateHandler, len(b.watchers))
	copy(watchers, b.watchers)
	b.mu.Unlock()

	for _, w := range watchers {
		func(nw namedStateHandler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("state handler panic", "state", state.String(), "handler", nw.ID, "panic", r)
				}
			}()
			nw.Handler(state)
		}(w)
	}
}

func (b *NotificationBus) State() domain.ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// OnState registers handler for connection state transitions.
func (b *NotificationBus) OnState(handler func(domain.ConnectionState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.watchers = append(b.watchers, namedStateHandler{ID: id, Handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, w := range b.watchers {
			if w.ID == id {
				b.watchers = append(b.watchers[:i:i], b.watchers[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount reports the number of event subscribers.
func (b *NotificationBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
