package chat

import (
	"fmt"
	"log/slog"
	"sync"

	"visadesk/internal/domain"
)

// LeadFeed collects leads assigned to the operator while the process runs.
type LeadFeed struct {
	onAssigned func(lead domain.Lead, notice string)
	logger     *slog.Logger

	mu          sync.Mutex
	leads       []domain.Lead
	seen        map[int64]struct{}
	total       int
	unsubscribe func()
}

func NewLeadFeed(bus domain.EventBus, onAssigned func(lead domain.Lead, notice string), logger *slog.Logger) *LeadFeed {
	f := &LeadFeed{
		onAssigned: onAssigned,
		logger:     logger.With("component", "leads"),
		seen:       make(map[int64]struct{}),
	}
	f.unsubscribe = bus.Subscribe(f.handle)
	return f
}

// SetTotal seeds the total from a lead listing.
func (f *LeadFeed) SetTotal(n int) {
	f.mu.Lock()
	f.total = n
	f.mu.Unlock()
}

func (f *LeadFeed) handle(ev domain.InboundEvent) {
	la, ok := ev.(domain.LeadAssignedEvent)
	if !ok {
		return
	}

	f.mu.Lock()
	if _, dup := f.seen[la.Lead.ID]; dup {
		f.mu.Unlock()
		f.logger.Debug("duplicate lead assignment ignored", "lead", la.Lead.ID)
		return
	}
	f.seen[la.Lead.ID] = struct{}{}
	f.leads = append([]domain.Lead{la.Lead}, f.leads...)
	f.total++
	f.mu.Unlock()

	notice := fmt.Sprintf("Lead %q assigned to you.", la.Lead.Name)
	f.logger.Info("lead assigned", "lead", la.Lead.ID, "name", la.Lead.Name)
	if f.onAssigned != nil {
		f.onAssigned(la.Lead, notice)
	}
}

// Leads returns the assigned leads, newest first.
func (f *LeadFeed) Leads() []domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Lead(nil), f.leads...)
}

func (f *LeadFeed) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *LeadFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}
}
