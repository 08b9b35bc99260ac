// Package backend is the HTTP client for the chat completion service and
// the platform API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/version"
)

// ContentTypeEventStream marks a streamed completion response.
const ContentTypeEventStream = "text/event-stream"

// MessageSource tags messages relayed by this service.
const MessageSource = "frontend"

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	AIURL  string // chat completion service base URL
	APIURL string // platform API base URL
	// Timeout bounds each request. Zero means no timeout, which streamed
	// completions usually need.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the external collaborators over HTTP.
type Client struct {
	aiURL      string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		aiURL:      strings.TrimRight(cfg.AIURL, "/"),
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		httpClient: httpClient,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// StatusError is a non-2xx response. Body holds the response text.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from a collaborator.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// MessageRequest is one chat turn to forward to the completion service.
type MessageRequest struct {
	SessionID string
	TenantID  string
	UserID    string
	Message   string
}

type messageBody struct {
	SessionID string         `json:"session_id"`
	TenantID  string         `json:"tenant_id"`
	Message   string         `json:"message"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// Reply is a single-shot completion.
type Reply struct {
	Message       string         `json:"message"`
	Content       string         `json:"content"`
	SessionID     string         `json:"session_id"`
	RequiresInput bool           `json:"requires_input"`
	Suggestions   []string       `json:"suggestions"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
}

// Text returns the reply text; message wins over content.
func (r *Reply) Text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Content
}

// Response holds exactly one of Stream (event-stream body, caller closes)
// or Reply.
type Response struct {
	Stream io.ReadCloser
	Reply  *Reply
}

// SendMessage posts a chat turn to {ai_url}/ai/chat/messages. An
// event-stream response is returned unread in Stream.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = events.DefaultTenantID
	}
	body := messageBody{
		SessionID: req.SessionID,
		TenantID:  tenantID,
		Message:   req.Message,
		UserID:    req.UserID,
		Metadata: map[string]any{
			"source":    MessageSource,
			"timestamp": c.now().UTC().Format(time.RFC3339Nano),
		},
	}

	resp, err := c.do(ctx, http.MethodPost, c.aiURL+"/ai/chat/messages", body, "")
	if err != nil {
		return nil, err
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return &Response{Stream: resp.Body}, nil
	}
	defer resp.Body.Close()

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode chat reply: %w", err)
	}
	return &Response{Reply: &reply}, nil
}

// CreateSessionRequest opens a conversation.
type CreateSessionRequest struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionMessage is one stored turn of a session's history.
type SessionMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Session is the completion service's view of a conversation. Timestamps
// are kept as sent; use ParseTime.
type Session struct {
	SessionID     string           `json:"session_id"`
	TenantID      string           `json:"tenant_id"`
	UserID        string           `json:"user_id,omitempty"`
	MessageCount  int              `json:"message_count"`
	Messages      []SessionMessage `json:"messages,omitempty"`
	HasActiveFlow bool             `json:"has_active_flow"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at,omitempty"`
}

// CreateSession opens a new chat session.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.TenantID == "" {
		req.TenantID = events.DefaultTenantID
	}
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, c.aiURL+"/ai/chat/sessions", req, "", &s); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	if s.SessionID == "" {
		return nil, fmt.Errorf("create chat session: response has no session_id")
	}
	return &s, nil
}

// GetSession fetches a session with its message history.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	endpoint := c.aiURL + "/ai/chat/sessions/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, "", &s); err != nil {
		return nil, fmt.Errorf("get chat session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Profile is the authenticated user as seen by the platform API.
type Profile struct {
	ID              string         `json:"id"`
	Email           string         `json:"email,omitempty"`
	Name            string         `json:"name,omitempty"`
	ProfileType     string         `json:"profileType,omitempty"`
	TenantID        string         `json:"tenantId"`
	Role            string         `json:"role"`
	NeedsOnboarding bool           `json:"needsOnboarding"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// GetProfile returns the profile behind token from {api_url}/api/users/me.
func (c *Client) GetProfile(ctx context.Context, token string) (*Profile, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL+"/api/users/me", nil, token, &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// ParseTime parses the timestamps the collaborators emit. Offsets are
// optional; values without one are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, token string, out any) error {
	resp, err := c.do(ctx, method, endpoint, body, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request and turns non-2xx responses into *StatusError.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.Full())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			c.logger.Warn("Failed to read error response body", "url", endpoint, "error", readErr)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	return resp, nil
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, ContentTypeEventStream)
	}
	return mediaType == ContentTypeEventStream
}
