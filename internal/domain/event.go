package domain

import "time"

// ConnectionState is the lifecycle state of the notification socket.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Wire tags of the notification channel.
const (
	EventConnectionEstablished = "connection.established"
	EventPing                  = "ping"
	EventPong                  = "pong"
	EventChatMessage           = "whatsapp.message"
	EventLeadAssigned          = "lead.assigned"
)

// InboundEvent is a decoded notification frame. The set of implementations is
// closed: ConnectionEstablished, Ping, Pong, ChatMessageEvent, LeadAssignedEvent.
type InboundEvent interface {
	EventType() string
	inboundEvent()
}

type ConnectionEstablished struct {
	ReceivedAt time.Time
}

type Ping struct {
	ReceivedAt time.Time
}

type Pong struct {
	ReceivedAt time.Time
}

// ChatMessageEvent is a live WhatsApp message push.
type ChatMessageEvent struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	PhoneNumber    string    `json:"phone_number"`
	ChatName       string    `json:"chat_name"`
	Timestamp      string    `json:"timestamp"`
	IsFromCustomer bool      `json:"is_from_customer"`
	VisitorID      string    `json:"visitor_id,omitempty"`
	ReceivedAt     time.Time `json:"-"`
}

// Message converts the push payload into a conversation message.
// fallbackName is used when the push carries no chat name.
func (e ChatMessageEvent) Message(fallbackName string) ConversationMessage {
	name := e.ChatName
	if name == "" {
		name = fallbackName
	}
	return ConversationMessage{
		ID:      e.ID,
		Content: e.Content,
		Sender: &Sender{
			Name:        name,
			PhoneNumber: e.PhoneNumber,
		},
		Timestamp:      e.Timestamp,
		IsFromOperator: !e.IsFromCustomer,
	}
}

type LeadAssignedEvent struct {
	Lead       Lead
	ReceivedAt time.Time
}

func (ConnectionEstablished) EventType() string { return EventConnectionEstablished }
func (Ping) EventType() string                  { return EventPing }
func (Pong) EventType() string                  { return EventPong }
func (ChatMessageEvent) EventType() string      { return EventChatMessage }
func (LeadAssignedEvent) EventType() string     { return EventLeadAssigned }

func (ConnectionEstablished) inboundEvent() {}
func (Ping) inboundEvent()                  {}
func (Pong) inboundEvent()                  {}
func (ChatMessageEvent) inboundEvent()      {}
func (LeadAssignedEvent) inboundEvent()     {}
