package domain

// Sender describes who wrote a conversation message.
type Sender struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// ConversationMessage is one entry of a WhatsApp conversation. Identity is ID.
type ConversationMessage struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Sender         *Sender `json:"sender"`    // nil when the payload carried no sender
	Timestamp      string  `json:"timestamp"` // ISO-8601
	IsFromOperator bool    `json:"is_admin"`
}

// Lead is the payload of a lead.assigned notification. Only the fields the
// client reads are typed; the rest travels in Extra.
type Lead struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	Extra       map[string]any `json:"-"`
}

// ChatSummary is one row of the chat list.
type ChatSummary struct {
	ID          string `json:"id"`
	WaID        string `json:"wa_id,omitempty"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	LastMessage string `json:"lastMessage,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Unread      bool   `json:"unread,omitempty"`
}
