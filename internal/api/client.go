package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatgo/internal/domain"
)

// Client talks to the chat server's REST API. The session cookie issued at
// login is kept in the client's jar and attached to every later request.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Credentials authenticate an existing account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest creates a new account.
type SignupRequest struct {
	DisplayName string `json:"fullName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// ProfilePatch carries the profile fields to update. Empty fields are
// omitted; the server merges and returns the full updated identity.
type ProfilePatch struct {
	DisplayName string `json:"fullName,omitempty"`
	AvatarRef   string `json:"profilePic,omitempty"`
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}

	return &Client{
		baseURL: trimmed,
		http:    &http.Client{Jar: jar, Timeout: timeout},
		logger:  logger,
	}, nil
}

func (c *Client) CheckSession(ctx context.Context) (domain.Identity, error) {
	var identity domain.Identity
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &identity); err != nil {
		return domain.Identity{}, err
	}

	return identity, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (domain.Identity, error) {
	var identity domain.Identity
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &identity); err != nil {
		return domain.Identity{}, err
	}

	return identity, nil
}

func (c *Client) Login(ctx context.Context, creds Credentials) (domain.Identity, error) {
	var identity domain.Identity
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &identity); err != nil {
		return domain.Identity{}, err
	}

	return identity, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) UpdateProfile(ctx context.Context, patch ProfilePatch) (domain.Identity, error) {
	var identity domain.Identity
	if err := c.do(ctx, http.MethodPut, "/auth/update-profile", patch, &identity); err != nil {
		return domain.Identity{}, err
	}

	return identity, nil
}

func (c *Client) Peers(ctx context.Context) ([]domain.Identity, error) {
	var peers []domain.Identity
	if err := c.do(ctx, http.MethodGet, "/message/users", nil, &peers); err != nil {
		return nil, err
	}

	return peers, nil
}

func (c *Client) History(ctx context.Context, peerID string) ([]domain.Message, error) {
	var history []domain.Message
	if err := c.do(ctx, http.MethodGet, "/message/"+url.PathEscape(peerID), nil, &history); err != nil {
		return nil, err
	}

	return history, nil
}

func (c *Client) Send(ctx context.Context, peerID string, draft domain.Draft) (domain.Message, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/message/send/"+url.PathEscape(peerID), draft, &msg); err != nil {
		return domain.Message{}, err
	}

	return msg, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "path", path, "request_id", requestID, "error", err)

		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	c.logger.Debug("request done",
		"method", method, "path", path, "request_id", requestID,
		"status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var serverErr errorBody
		_ = json.NewDecoder(resp.Body).Decode(&serverErr)

		return &Error{Status: resp.StatusCode, Message: serverErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}
