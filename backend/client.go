// Package backend holds the narrow HTTP clients for the application backend:
// the auth settings document and the username/password session endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/open-rails/loginkit/core"
)

const (
	settingsPath = "/api/v1/settings"
	sessionPath  = "/api/v1/session"
)

// Client talks to the application backend. It implements both
// core.SettingsSource and core.CredentialTransport.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthSettings fetches the backend's advertised auth settings. Read-only and
// idempotent; callers may cache the result.
func (c *Client) AuthSettings(ctx context.Context) (*core.AuthSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+settingsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settings request failed with status %d", resp.StatusCode)
	}
	var doc core.AuthSettings
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed settings document: %w", err)
	}
	return &doc, nil
}

// Login posts the credentials and returns the opaque session token. A backend
// rejection becomes a CredentialError carrying the backend's message
// verbatim; anything else is a TransportError.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", core.WrapError(core.KindTransport, "login request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", core.NewError(core.KindCredential, errorMessage(resp.Body, "invalid username or password"))
	}
	if resp.StatusCode != http.StatusOK {
		return "", core.NewError(core.KindTransport, fmt.Sprintf("login request failed with status %d", resp.StatusCode))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		return "", core.NewError(core.KindTransport, "malformed session response")
	}
	return out.Token, nil
}

// errorMessage extracts the backend's error message so it can be shown
// without transformation, falling back when the body is not the usual shape.
func errorMessage(r io.Reader, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<16)).Decode(&body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fallback
}
