package domain

import (
	"context"
	"time"
)

// PageQuery selects one page of conversation history.
type PageQuery struct {
	Page     int
	PageSize int
	Before   time.Time // zero means newest page
}

// HistoryFetcher returns paged message history for a peer.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, peerID string, q PageQuery) ([]ConversationMessage, error)
}

// MessageSender sends an outbound WhatsApp message and returns the created echo.
type MessageSender interface {
	SendMessage(ctx context.Context, phoneNumber, text string) (ConversationMessage, error)
}

// ChatLister returns the chat list shown in the inbox.
type ChatLister interface {
	ListChats(ctx context.Context) ([]ChatSummary, error)
}
