package chat

import (
	"strings"

	"visadesk/internal/domain"
)

// peerKeyDigits is how many trailing digits identify a phone number.
const peerKeyDigits = 10

// NormalizePhone strips every non-digit and keeps the last 10 digits, so
// "+91 98765-43210" and "919876543210" share a key.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > peerKeyDigits {
		digits = digits[len(digits)-peerKeyDigits:]
	}
	return digits
}

// Peer identifies the counterpart of one conversation.
type Peer struct {
	ID          string // history collaborator id
	Name        string
	PhoneNumber string
	WaID        string // alternate WhatsApp id, usually the full international number
	VisitorID   string // internal visitor identifier for web-widget peers
}

// PeerFromSummary builds a Peer from a chat list row.
func PeerFromSummary(c domain.ChatSummary) Peer {
	return Peer{ID: c.ID, Name: c.Name, PhoneNumber: c.PhoneNumber, WaID: c.WaID}
}

// Key is the peer key used to group conversations.
func (p Peer) Key() string {
	if k := NormalizePhone(p.PhoneNumber); k != "" {
		return k
	}
	if k := NormalizePhone(p.WaID); k != "" {
		return k
	}
	return p.VisitorID
}

// MatchesPhone reports whether phone belongs to this peer. Empty keys never match.
func (p Peer) MatchesPhone(phone string) bool {
	incoming := NormalizePhone(phone)
	if incoming == "" {
		return false
	}
	return incoming == NormalizePhone(p.PhoneNumber) || incoming == NormalizePhone(p.WaID)
}

// Matches reports whether a live push belongs to this peer's conversation.
func (p Peer) Matches(ev domain.ChatMessageEvent) bool {
	if p.MatchesPhone(ev.PhoneNumber) {
		return true
	}
	return ev.VisitorID != "" && ev.VisitorID == p.VisitorID
}
