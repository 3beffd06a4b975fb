// Package chat merges paged WhatsApp history with live pushes into one
// ordered, duplicate-free conversation, and hosts the views built on it.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"visadesk/internal/domain"
	"visadesk/internal/metrics"
)

const DefaultPageSize = 50

// OutcomeKind classifies what a merge did to the conversation.
type OutcomeKind int

const (
	Appended OutcomeKind = iota + 1
	Updated
	DuplicateIgnored
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Appended:
		return "appended"
	case Updated:
		return "updated"
	case DuplicateIgnored:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of merging one message. Reason is set for Rejected.
type Outcome struct {
	Kind   OutcomeKind
	ID     string
	Reason string
}

// Changed reports whether the merge altered the visible sequence.
func (o Outcome) Changed() bool {
	return o.Kind == Appended || o.Kind == Updated
}

func (o Outcome) String() string {
	if o.Kind == Rejected {
		return fmt.Sprintf("rejected(%s)", o.Reason)
	}
	return o.Kind.String()
}

const (
	ReasonInvalid      = "invalid"
	ReasonPeerMismatch = "peer mismatch"
	ReasonClosed       = "conversation closed"
)

// Page summarises one history load.
type Page struct {
	Fetched    int
	Appended   int
	Updated    int
	Duplicates int
	Rejected   int
	HasMore    bool
}

type entry struct {
	msg domain.ConversationMessage
	at  time.Time
	fp  uint64
}

// Reconciler owns the state of one open conversation. All methods are safe
// for concurrent use; merges are serialised and history fetches run outside
// the lock.
type Reconciler struct {
	peer     Peer
	history  domain.HistoryFetcher
	pageSize int
	logger   *slog.Logger

	mu      sync.Mutex
	entries []*entry          // ascending by at
	byID    map[string]*entry // exactly the ids in entries
	oldest  time.Time
	newest  time.Time
	hasMore bool
	closed  bool
}

func NewReconciler(peer Peer, history domain.HistoryFetcher, pageSize int, logger *slog.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Reconciler{
		peer:     peer,
		history:  history,
		pageSize: pageSize,
		logger:   logger.With("component", "reconciler", "peer", peer.Key()),
		byID:     make(map[string]*entry),
		hasMore:  true,
	}
}

func (r *Reconciler) Peer() Peer { return r.peer }

// LoadPage fetches one page of history older than before (zero for the
// newest page) and merges it. The cursor alone selects the page, so the page
// number is always 1. On failure the conversation is left as it was.
// A response that arrives after Close is discarded.
func (r *Reconciler) LoadPage(ctx context.Context, before time.Time) (Page, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Page{}, domain.ErrConversationClosed
	}
	q := domain.PageQuery{Page: 1, PageSize: r.pageSize, Before: before}
	r.mu.Unlock()

	msgs, err := r.history.FetchMessages(ctx, r.peer.ID, q)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Debug("discarding history page for closed conversation")
		return Page{}, domain.ErrConversationClosed
	}
	if err != nil {
		metrics.HistoryFetchFailures.Inc()
		return Page{}, fmt.Errorf("%w: %w", domain.ErrHistoryFetch, err)
	}

	page := Page{Fetched: len(msgs), HasMore: len(msgs) == r.pageSize}
	for _, m := range msgs {
		switch out := r.mergeLocked(m); out.Kind {
		case Appended:
			page.Appended++
		case Updated:
			page.Updated++
		case DuplicateIgnored:
			page.Duplicates++
		case Rejected:
			page.Rejected++
		}
	}
	r.hasMore = page.HasMore
	return page, nil
}

// LoadOlder loads the page before the oldest message seen so far.
func (r *Reconciler) LoadOlder(ctx context.Context) (Page, error) {
	r.mu.Lock()
	before := r.oldest
	r.mu.Unlock()
	return r.LoadPage(ctx, before)
}

// Ingest merges a live push. Pushes for another peer are rejected without
// touching the conversation.
func (r *Reconciler) Ingest(ev domain.ChatMessageEvent) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.reject(ev.ID, ReasonClosed)
	}
	if !r.peer.Matches(ev) {
		return r.reject(ev.ID, ReasonPeerMismatch)
	}
	return r.mergeLocked(ev.Message(r.peer.Name))
}

// Merge runs the merge algorithm for a message that needs no peer check,
// such as the echo of a message this client sent.
func (r *Reconciler) Merge(msg domain.ConversationMessage) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.reject(msg.ID, ReasonClosed)
	}
	return r.mergeLocked(msg)
}

func (r *Reconciler) mergeLocked(msg domain.ConversationMessage) Outcome {
	at, ok := validate(msg)
	if !ok {
		return r.reject(msg.ID, ReasonInvalid)
	}
	fp := fingerprint(msg.Content)

	if existing, seen := r.byID[msg.ID]; seen {
		if existing.fp == fp {
			return r.record(Outcome{Kind: DuplicateIgnored, ID: msg.ID})
		}
		// Same slot: the original timestamp and position are kept.
		msg.Timestamp = existing.msg.Timestamp
		existing.msg = msg
		existing.fp = fp
		return r.record(Outcome{Kind: Updated, ID: msg.ID})
	}

	e := &entry{msg: msg, at: at, fp: fp}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].at.After(at) })
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
	r.byID[msg.ID] = e

	if r.oldest.IsZero() || at.Before(r.oldest) {
		r.oldest = at
	}
	if at.After(r.newest) {
		r.newest = at
	}
	return r.record(Outcome{Kind: Appended, ID: msg.ID})
}

func (r *Reconciler) reject(id, reason string) Outcome {
	r.logger.Debug("message rejected", "id", id, "reason", reason)
	return r.record(Outcome{Kind: Rejected, ID: id, Reason: reason})
}

func (r *Reconciler) record(o Outcome) Outcome {
	metrics.ReconcileOutcomes.WithLabelValues(o.Kind.String()).Inc()
	return o
}

// validate checks the required fields and parses the timestamp.
func validate(msg domain.ConversationMessage) (time.Time, bool) {
	if msg.ID == "" || msg.Content == "" || msg.Timestamp == "" || msg.Sender == nil {
		return time.Time{}, false
	}
	return ParseTimestamp(msg.Timestamp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 instant. A timestamp without a zone is
// taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Messages returns a copy of the ordered sequence.
func (r *Reconciler) Messages() []domain.ConversationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ConversationMessage, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Contains reports whether id is in the processed set.
func (r *Reconciler) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// HasMore reports whether the last page was full. It is true before the
// first load.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Cursors returns the oldest and newest timestamps seen.
func (r *Reconciler) Cursors() (oldest, newest time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldest, r.newest
}

// Close discards the conversation. In-flight loads are dropped when they return.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.entries = nil
	r.byID = make(map[string]*entry)
	r.oldest, r.newest = time.Time{}, time.Time{}
}
