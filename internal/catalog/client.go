// ABOUTME: HTTP client for the catalog/identity collaborator.
// ABOUTME: Conversation listing, history, creation, assignment, and closing.

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cineverse/supportdesk/internal/wire"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an assignment was raced by another staff
// member. Callers refresh their view and surface the true assignee rather
// than treating this as fatal.
var ErrConflict = errors.New("conversation already claimed")

// DefaultTimeout bounds each catalog request.
const DefaultTimeout = 10 * time.Second

// Client talks to the catalog service. All calls return wire shapes; the
// Normalizer maps them into the internal model.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a catalog client. The token is sent as a bearer credential.
// Zero timeout means DefaultTimeout; pass nil logger for default.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With("component", "catalog"),
	}
}

// Conversations fetches the full conversation list for an identity.
func (c *Client) Conversations(ctx context.Context, identityID string) ([]wire.Conversation, error) {
	var out []wire.Conversation
	path := "/api/chat/conversations/user/" + url.PathEscape(identityID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the ordered message history of one conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]wire.Message, error) {
	var out []wire.Message
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation starts a new conversation for a customer.
func (c *Client) CreateConversation(ctx context.Context, customerID string) (wire.Conversation, error) {
	var out wire.Conversation
	body := map[string]string{"customerId": customerID}
	if err := c.do(ctx, http.MethodPost, "/api/chat/conversations", body, &out); err != nil {
		return wire.Conversation{}, err
	}
	return out, nil
}

// Assign claims an orphan conversation for a staff member. Exclusivity is
// enforced by the collaborator's write: losing the race yields ErrConflict.
func (c *Client) Assign(ctx context.Context, conversationID, staffID string) (wire.Conversation, error) {
	var out wire.Conversation
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/assign"
	body := map[string]string{"staffId": staffID}
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return wire.Conversation{}, err
	}
	return out, nil
}

// CloseConversation marks a conversation CLOSED.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) (wire.Conversation, error) {
	var out wire.Conversation
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/close"
	if err := c.do(ctx, http.MethodPut, path, nil, &out); err != nil {
		return wire.Conversation{}, err
	}
	return out, nil
}

// WaitingConversations lists orphan conversations awaiting a claim.
func (c *Client) WaitingConversations(ctx context.Context) ([]wire.Conversation, error) {
	var out []wire.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations/waiting", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, ErrConflict)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Warn("catalog request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
