package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"visadesk/internal/domain"
)

// Client calls the CRM auth endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Refresher = (*Client)(nil)

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Refresh posts {"refresh": token} to /auth/refresh/ and returns the new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out struct {
		Access string `json:"access"`
	}
	if err := c.post(ctx, "/auth/refresh/", map[string]string{"refresh": refreshToken}, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", fmt.Errorf("refresh response has no access token")
	}
	return out.Access, nil
}

// LoginResult is the body of a successful sign-in.
type LoginResult struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    json.RawMessage `json:"user,omitempty"`
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/auth/login/", body, &out); err != nil {
		return LoginResult{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return LoginResult{}, fmt.Errorf("login response is missing tokens")
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return nil
}

// SignIn logs in and persists the returned pair.
func SignIn(ctx context.Context, c *Client, store domain.TokenStore, email, password string) error {
	res, err := c.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return store.SaveCredential(ctx, domain.Credential{
		AccessToken:  res.Access,
		RefreshToken: res.Refresh,
		Operator:     email,
	})
}

// SignOut removes the persisted credential.
func SignOut(ctx context.Context, store domain.TokenStore) error {
	return store.ClearCredential(ctx)
}
