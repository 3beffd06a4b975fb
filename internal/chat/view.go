package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"visadesk/internal/domain"
	"visadesk/internal/metrics"
)

// Notice is a transient, dismissible message for the operator.
type Notice struct {
	At   time.Time
	Text string
	Err  error
}

// ViewHooks are optional callbacks. OnChange runs after every merge that
// altered the open conversation; OnNotice runs for surfaced errors.
type ViewHooks struct {
	OnChange func(peer Peer)
	OnNotice func(n Notice)
}

// View is the consumer side of the realtime core: it owns the reconciler of
// the open conversation and feeds it live pushes from the bus.
type View struct {
	bus      domain.EventBus
	history  domain.HistoryFetcher
	sender   domain.MessageSender
	pageSize int
	hooks    ViewHooks
	logger   *slog.Logger

	mu          sync.Mutex
	active      *Reconciler
	unsubscribe func()
}

func NewView(bus domain.EventBus, history domain.HistoryFetcher, sender domain.MessageSender, pageSize int, hooks ViewHooks, logger *slog.Logger) *View {
	v := &View{
		bus:      bus,
		history:  history,
		sender:   sender,
		pageSize: pageSize,
		hooks:    hooks,
		logger:   logger.With("component", "view"),
	}
	v.unsubscribe = bus.Subscribe(v.handle)
	return v
}

func (v *View) handle(ev domain.InboundEvent) {
	push, ok := ev.(domain.ChatMessageEvent)
	if !ok {
		return
	}
	r := v.current()
	if r == nil {
		return
	}
	out := r.Ingest(push)
	switch {
	case out.Changed():
		v.changed(r)
	case out.Kind == Rejected && out.Reason == ReasonInvalid:
		v.logger.Warn("invalid live message dropped", "id", push.ID, "err", domain.ErrInvalidMessage)
	}
}

// Open switches to peer: the previous conversation is discarded and the
// newest history page is loaded.
func (v *View) Open(ctx context.Context, peer Peer) (Page, error) {
	r := NewReconciler(peer, v.history, v.pageSize, v.logger)

	v.mu.Lock()
	if v.active != nil {
		v.active.Close()
	}
	v.active = r
	v.mu.Unlock()

	page, err := r.LoadPage(ctx, time.Time{})
	return page, v.afterLoad(r, page, err)
}

// LoadOlder loads the page before the oldest loaded message. It is a no-op
// once the last page came back short.
func (v *View) LoadOlder(ctx context.Context) (Page, error) {
	r := v.current()
	if r == nil {
		return Page{}, domain.ErrConversationClosed
	}
	if !r.HasMore() {
		return Page{}, nil
	}
	page, err := r.LoadOlder(ctx)
	return page, v.afterLoad(r, page, err)
}

func (v *View) afterLoad(r *Reconciler, page Page, err error) error {
	if errors.Is(err, domain.ErrConversationClosed) {
		return err
	}
	if err != nil {
		v.notice("Could not load messages. Scroll up to retry.", err)
		return err
	}
	if page.Appended > 0 || page.Updated > 0 {
		v.changed(r)
	}
	return nil
}

// CanSend reports whether the notification channel is connected.
func (v *View) CanSend() bool {
	return v.bus.State() == domain.Connected
}

// Send delivers text to the open peer and merges the returned echo. There
// is no automatic retry.
func (v *View) Send(ctx context.Context, text string) (Outcome, error) {
	if !v.CanSend() {
		return Outcome{}, domain.ErrNotConnected
	}
	r := v.current()
	if r == nil {
		return Outcome{}, domain.ErrConversationClosed
	}

	peer := r.Peer()
	phone := peer.PhoneNumber
	if phone == "" {
		phone = peer.WaID
	}

	echo, err := v.sender.SendMessage(ctx, phone, text)
	if err != nil {
		metrics.SendFailures.Inc()
		err = fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
		v.notice("Message not sent. Try again.", err)
		return Outcome{}, err
	}

	out := r.Merge(echo)
	if out.Changed() {
		v.changed(r)
	}
	return out, nil
}

// Messages returns the open conversation, or nil.
func (v *View) Messages() []domain.ConversationMessage {
	if r := v.current(); r != nil {
		return r.Messages()
	}
	return nil
}

// Peer returns the open peer.
func (v *View) Peer() (Peer, bool) {
	if r := v.current(); r != nil {
		return r.Peer(), true
	}
	return Peer{}, false
}

// Close unsubscribes from the bus and discards the open conversation.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
	if v.active != nil {
		v.active.Close()
		v.active = nil
	}
}

func (v *View) current() *Reconciler {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *View) changed(r *Reconciler) {
	if v.hooks.OnChange != nil && v.current() == r {
		v.hooks.OnChange(r.Peer())
	}
}

func (v *View) notice(text string, err error) {
	v.logger.Warn(text, "err", err)
	if v.hooks.OnNotice != nil {
		v.hooks.OnNotice(Notice{At: time.Now(), Text: text, Err: err})
	}
}
