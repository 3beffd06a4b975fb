package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"visadesk/internal/domain"
)

const DefaultPreviewLength = 40

// Inbox is the chat list: one row per peer, newest activity first, kept
// current by live pushes.
type Inbox struct {
	lister     domain.ChatLister
	previewLen int
	onChange   func()
	logger     *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	chats       []domain.ChatSummary
	reloading   bool
	unsubscribe func()
}

func NewInbox(lister domain.ChatLister, bus domain.EventBus, previewLen int, onChange func(), logger *slog.Logger) *Inbox {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	in := &Inbox{
		lister:     lister,
		previewLen: previewLen,
		onChange:   onChange,
		logger:     logger.With("component", "inbox"),
		ctx:        context.Background(),
	}
	in.unsubscribe = bus.Subscribe(in.handle)
	return in
}

// Start binds background reloads to ctx and loads the list.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	in.ctx = ctx
	in.mu.Unlock()
	return in.Load(ctx)
}

// Load replaces the list with the backend's. Rows that share a peer key are
// collapsed to the most recent one.
func (in *Inbox) Load(ctx context.Context) error {
	chats, err := in.lister.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	byKey := make(map[string]domain.ChatSummary, len(chats))
	var order []string
	for _, c := range chats {
		if c.WaID == "" {
			c.WaID = c.PhoneNumber
		}
		c.LastMessage = Preview(c.LastMessage, in.previewLen)
		key := PeerFromSummary(c).Key()
		if key == "" {
			key = "id:" + c.ID
		}
		prev, seen := byKey[key]
		if !seen {
			order = append(order, key)
			byKey[key] = c
			continue
		}
		if chatTime(c).After(chatTime(prev)) {
			byKey[key] = c
		}
	}

	list := make([]domain.ChatSummary, 0, len(order))
	for _, k := range order {
		list = append(list, byKey[k])
	}
	sort.SliceStable(list, func(i, j int) bool {
		return chatTime(list[i]).After(chatTime(list[j]))
	})

	in.mu.Lock()
	in.chats = list
	in.mu.Unlock()
	in.changed()
	return nil
}

func (in *Inbox) handle(ev domain.InboundEvent) {
	push, ok := ev.(domain.ChatMessageEvent)
	if !ok {
		return
	}

	in.mu.Lock()
	idx := -1
	for i, c := range in.chats {
		if PeerFromSummary(c).MatchesPhone(push.PhoneNumber) {
			idx = i
			break
		}
	}
	if idx < 0 {
		if NormalizePhone(push.PhoneNumber) == "" {
			// Visitor-only pushes have no chat list row to refresh.
			in.mu.Unlock()
			return
		}
		start := !in.reloading
		in.reloading = true
		ctx := in.ctx
		in.mu.Unlock()
		if start {
			in.logger.Debug("push for unknown peer, reloading chat list")
			go in.reload(ctx)
		}
		return
	}

	c := in.chats[idx]
	c.LastMessage = Preview(push.Content, in.previewLen)
	c.Timestamp = push.Timestamp
	c.Unread = true
	copy(in.chats[1:idx+1], in.chats[:idx])
	in.chats[0] = c
	in.mu.Unlock()
	in.changed()
}

func (in *Inbox) reload(ctx context.Context) {
	defer func() {
		in.mu.Lock()
		in.reloading = false
		in.mu.Unlock()
	}()
	if err := in.Load(ctx); err != nil {
		in.logger.Warn("chat list reload failed", "err", err)
	}
}

// Chats returns a copy of the list.
func (in *Inbox) Chats() []domain.ChatSummary {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]domain.ChatSummary(nil), in.chats...)
}

// Search filters by name, phone number or preview, case-insensitively.
func (in *Inbox) Search(term string) []domain.ChatSummary {
	term = strings.ToLower(strings.TrimSpace(term))
	all := in.Chats()
	if term == "" {
		return all
	}
	var out []domain.ChatSummary
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), term) ||
			strings.Contains(strings.ToLower(c.PhoneNumber), term) ||
			strings.Contains(strings.ToLower(c.LastMessage), term) {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the row whose id, phone or wa_id matches ref.
func (in *Inbox) Find(ref string) (domain.ChatSummary, bool) {
	for _, c := range in.Chats() {
		if c.ID == ref || PeerFromSummary(c).MatchesPhone(ref) {
			return c, true
		}
	}
	return domain.ChatSummary{}, false
}

func (in *Inbox) MarkRead(id string) {
	in.mu.Lock()
	changed := false
	for i := range in.chats {
		if in.chats[i].ID == id && in.chats[i].Unread {
			in.chats[i].Unread = false
			changed = true
		}
	}
	in.mu.Unlock()
	if changed {
		in.changed()
	}
}

func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.unsubscribe != nil {
		in.unsubscribe()
		in.unsubscribe = nil
	}
}

func (in *Inbox) changed() {
	if in.onChange != nil {
		in.onChange()
	}
}

// Preview truncates s to n runes and marks the cut with "...".
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func chatTime(c domain.ChatSummary) time.Time {
	t, _ := ParseTimestamp(c.Timestamp)
	return t
}
