package chat

import (
	"testing"

	"visadesk/internal/bus"
	"visadesk/internal/domain"
)

func TestLeadFeed_PrependsNewLeads(t *testing.T) {
	b := bus.New(testLogger())
	var notices []string
	f := NewLeadFeed(b, func(_ domain.Lead, n string) { notices = append(notices, n) }, testLogger())
	defer f.Close()
	f.SetTotal(10)

	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 1, Name: "Ravi"}})
	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 2, Name: "Meera"}})
	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 1, Name: "Ravi"}})

	leads := f.Leads()
	if len(leads) != 2 || leads[0].ID != 2 || leads[1].ID != 1 {
		t.Fatalf("expected [2 1], got %+v", leads)
	}
	if f.Total() != 12 {
		t.Fatalf("expected total 12, got %d", f.Total())
	}
	if len(notices) != 2 || notices[0] != `Lead "Ravi" assigned to you.` {
		t.Fatalf("unexpected notices %v", notices)
	}
}

func TestLeadFeed_IgnoresOtherEvents(t *testing.T) {
	b := bus.New(testLogger())
	f := NewLeadFeed(b, nil, testLogger())
	b.Publish(domain.Ping{})
	b.Publish(push("m", "x", at("10:00")))
	if len(f.Leads()) != 0 {
		t.Fatal("expected no leads")
	}
	f.Close()
	b.Publish(domain.LeadAssignedEvent{Lead: domain.Lead{ID: 5}})
	if len(f.Leads()) != 0 {
		t.Fatal("closed feed must not collect leads")
	}
}
