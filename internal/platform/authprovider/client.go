// Package authprovider talks to a GoTrue-compatible identity provider: it
// signs users in with a password and, with the service key, creates accounts
// and generates password-recovery links.
package authprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserExists         = errors.New("user already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotConfigured      = errors.New("identity provider is not configured")
)

type Config struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	Timeout    time.Duration
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// providerError is the error body shape; older GoTrue versions use
// error_description, newer ones msg.
type providerError struct {
	Code             interface{} `json:"code"`
	ErrorCode        string      `json:"error_code"`
	Msg              string      `json:"msg"`
	Message          string      `json:"message"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

func (e providerError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path, key string, in, out interface{}) (int, string, error) {
	if c.cfg.BaseURL == "" || key == "" {
		return 0, "", ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, "", fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var pe providerError
		_ = json.Unmarshal(raw, &pe)
		msg := pe.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, msg, nil
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	status, msg, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.cfg.AnonKey,
		map[string]string{"email": email, "password": password}, &s)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case status >= 300:
		return nil, fmt.Errorf("sign in: provider returned %d: %s", status, msg)
	}
	return &s, nil
}

// CreateUser creates a confirmed account for email with no password set.
func (c *Client) CreateUser(ctx context.Context, email string) (*User, error) {
	var u User
	status, msg, err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", c.cfg.ServiceKey,
		map[string]interface{}{"email": email, "email_confirm": true}, &u)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity || (status >= 400 && strings.Contains(strings.ToLower(msg), "already")) {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
	}
	if status >= 300 {
		return nil, fmt.Errorf("create user: provider returned %d: %s", status, msg)
	}
	return &u, nil
}

// usersPageSize is the page size used when scanning the admin user list.
const usersPageSize = 100

type usersPage struct {
	Users []User `json:"users"`
}

// FindUserByEmail pages through the admin user list until it finds email.
// The comparison is case-insensitive.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("per_page", fmt.Sprint(usersPageSize))

		var out usersPage
		status, msg, err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), c.cfg.ServiceKey, nil, &out)
		if err != nil {
			return nil, err
		}
		if status >= 300 {
			return nil, fmt.Errorf("list users: provider returned %d: %s", status, msg)
		}

		for i := range out.Users {
			if strings.EqualFold(out.Users[i].Email, email) {
				return &out.Users[i], nil
			}
		}
		if len(out.Users) < usersPageSize {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
	}
}

type generateLinkResponse struct {
	ActionLink string `json:"action_link"`
	Properties struct {
		ActionLink string `json:"action_link"`
	} `json:"properties"`
}

// GenerateRecoveryLink returns a password-recovery link for email that
// lands on redirectTo once used.
func (c *Client) GenerateRecoveryLink(ctx context.Context, email, redirectTo string) (string, error) {
	var out generateLinkResponse
	status, msg, err := c.do(ctx, http.MethodPost, "/auth/v1/admin/generate_link", c.cfg.ServiceKey,
		map[string]string{"type": "recovery", "email": email, "redirect_to": redirectTo}, &out)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("generate link: provider returned %d: %s", status, msg)
	}

	link := out.ActionLink
	if link == "" {
		link = out.Properties.ActionLink
	}
	if link == "" {
		return "", errors.New("generate link: response has no action_link")
	}
	return link, nil
}
