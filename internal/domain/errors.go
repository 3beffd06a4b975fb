package domain

import "errors"

var (
	ErrAuthExpired             = errors.New("access token expired")
	ErrAuthRefreshFailed       = errors.New("token refresh failed")
	ErrConnectionTimeout       = errors.New("connection handshake timed out")
	ErrConnectionClosedUnclean = errors.New("connection closed uncleanly")
	ErrMalformedFrame          = errors.New("malformed frame")
	ErrInvalidMessage          = errors.New("invalid message")
	ErrHistoryFetch            = errors.New("history fetch failed")
	ErrSendFailed              = errors.New("send failed")

	ErrNotConnected       = errors.New("notification channel not connected")
	ErrConversationClosed = errors.New("conversation closed")
)
