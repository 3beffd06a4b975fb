package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"visadesk/internal/domain"
)

// frame is the wire envelope: {"type": ..., "message": {...}} for chat pushes
// and {"type": ..., "lead": {...}} for lead assignments.
type frame struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Lead    json.RawMessage `json:"lead,omitempty"`
}

// DecodeFrame parses one text frame into its InboundEvent variant.
// Unknown types and payloads that do not fit their variant return an error
// wrapping domain.ErrMalformedFrame.
func DecodeFrame(data []byte, receivedAt time.Time) (domain.InboundEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	switch f.Type {
	case domain.EventConnectionEstablished:
		return domain.ConnectionEstablished{ReceivedAt: receivedAt}, nil
	case domain.EventPing:
		return domain.Ping{ReceivedAt: receivedAt}, nil
	case domain.EventPong:
		return domain.Pong{ReceivedAt: receivedAt}, nil
	case domain.EventChatMessage:
		if len(f.Message) == 0 || string(f.Message) == "null" {
			return nil, fmt.Errorf("%w: %s without message payload", domain.ErrMalformedFrame, f.Type)
		}
		var ev domain.ChatMessageEvent
		if err := json.Unmarshal(f.Message, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedFrame, f.Type, err)
		}
		ev.ReceivedAt = receivedAt
		return ev, nil
	case domain.EventLeadAssigned:
		lead, err := decodeLead(f.Lead)
		if err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedFrame, f.Type, err)
		}
		return domain.LeadAssignedEvent{Lead: lead, ReceivedAt: receivedAt}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedFrame, f.Type)
	}
}

func decodeLead(raw json.RawMessage) (domain.Lead, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Lead{}, fmt.Errorf("no lead object")
	}
	var lead domain.Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return domain.Lead{}, err
	}
	if err := json.Unmarshal(raw, &lead.Extra); err != nil {
		return domain.Lead{}, err
	}
	for _, k := range []string{"id", "name", "email", "phone_number"} {
		delete(lead.Extra, k)
	}
	return lead, nil
}

// encodeControl renders a {"type": t} frame.
func encodeControl(t string) []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{t})
	return b
}
