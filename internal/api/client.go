// Package api implements the CRM REST collaborators: message history, send
// and the chat list.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"visadesk/internal/domain"
	"visadesk/internal/metrics"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.Code, e.Body)
}

// envelope is the {status, data} wrapper every wabachat endpoint uses.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Client talks to the CRM backend with a bearer token from a TokenSource.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  domain.TokenSource
	logger  *slog.Logger
}

var (
	_ domain.HistoryFetcher = (*Client)(nil)
	_ domain.MessageSender  = (*Client)(nil)
	_ domain.ChatLister     = (*Client)(nil)
)

func NewClient(baseURL string, httpClient *http.Client, tokens domain.TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = SharedHTTPClient(0)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  logger,
	}
}

// FetchMessages returns one page of history for peerID, oldest cursor in q.Before.
func (c *Client) FetchMessages(ctx context.Context, peerID string, q domain.PageQuery) ([]domain.ConversationMessage, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if !q.Before.IsZero() {
		params.Set("before", FormatTimestamp(q.Before))
	}

	path := "/wabachat/messages/" + url.PathEscape(peerID) + "/"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var msgs []domain.ConversationMessage
	if err := c.do(ctx, "fetch_messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts an outbound message and returns the created echo.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, text string) (domain.ConversationMessage, error) {
	body := map[string]string{
		"phone_number": phoneNumber,
		"message":      text,
	}
	var echo domain.ConversationMessage
	if err := c.do(ctx, "send_message", http.MethodPost, "/wabachat/send/", body, &echo); err != nil {
		return domain.ConversationMessage{}, err
	}
	return echo, nil
}

func (c *Client) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	var chats []domain.ChatSummary
	if err := c.do(ctx, "list_chats", http.MethodGet, "/wabachat/chats/", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	token, ok := c.tokens.ValidAccessToken(ctx)
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrAuthExpired)
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.APILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("api call failed", "op", op, "status", resp.StatusCode, "request_id", requestID)
		return &StatusError{Operation: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if strings.EqualFold(env.Status, "error") {
		return fmt.Errorf("%s: backend error: %s", op, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}

	c.logger.Debug("api call", "op", op, "request_id", requestID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// FormatTimestamp renders t the way the backend's cursors are written:
// UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
