// Package chat consumes the relay's chunked stream and keeps the chat
// store's assistant message in step with it.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latzu/latzu-edge/pkg/backend"
	"github.com/latzu/latzu-edge/pkg/relay"
	"github.com/latzu/latzu-edge/pkg/store"
	"github.com/latzu/latzu-edge/pkg/tracking"
)

const (
	// ErrorMessageText replaces the assistant message when a turn fails.
	ErrorMessageText = "Sorry, there was an error processing your message."
	// SendErrorText fills the store error slot when a turn fails.
	SendErrorText = "Error sending the message. Please try again."
	// LoadErrorText fills the store error slot when history cannot be loaded.
	LoadErrorText = "Could not load the conversation."
)

// errStopped is the cancellation cause for StopGeneration and for a turn
// replaced by a newer SendMessage. Any other cause is a failure.
var errStopped = errors.New("chat turn stopped")

// SessionCreator opens and fetches chat sessions. backend.Client
// satisfies it.
type SessionCreator interface {
	CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*backend.Session, error)
	GetSession(ctx context.Context, sessionID string) (*backend.Session, error)
}

// StreamError is an error chunk sent by the relay.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// Config configures a Client.
type Config struct {
	StreamURL  string // relay endpoint, e.g. http://host/api/stream
	TenantID   string
	UserID     string
	HTTPClient *http.Client
}

// Client sends chat turns through the relay.
type Client struct {
	cfg      Config
	store    *store.ChatStore
	sessions SessionCreator
	tracker  *tracking.Tracker

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	gen    uint64

	now func() time.Time
}

// NewClient creates a chat client. tracker may be nil.
func NewClient(cfg Config, chatStore *store.ChatStore, sessions SessionCreator, tracker *tracking.Tracker) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		cfg:      cfg,
		store:    chatStore,
		sessions: sessions,
		tracker:  tracker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage runs one chat turn. Blank input is ignored. Any turn still in
// flight is aborted first. The returned error mirrors the store error slot;
// a turn stopped by StopGeneration returns nil.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}
	c.store.SetError("")

	sessionID, err := c.ensureSession(ctx)
	if err != nil {
		c.store.SetError(err.Error())
		return err
	}

	c.store.AddMessage(store.ChatMessage{
		ID:        uuid.New().String(),
		Role:      store.RoleUser,
		Content:   text,
		Timestamp: c.now(),
	})
	if c.tracker != nil {
		c.tracker.TrackChatMessage(text, sessionID, tracking.Options{
			TenantID: c.cfg.TenantID,
			UserID:   c.cfg.UserID,
		})
	}

	replyID := uuid.New().String()
	c.store.AddMessage(store.ChatMessage{
		ID:          replyID,
		Role:        store.RoleAssistant,
		Timestamp:   c.now(),
		IsStreaming: true,
	})
	c.store.SetStreaming(true)

	reqCtx, gen := c.begin(ctx)
	defer c.end(gen)

	err = c.stream(reqCtx, sessionID, text, replyID)
	switch {
	case err == nil:
		return nil
	case errors.Is(context.Cause(reqCtx), errStopped):
		slog.Debug("Chat turn aborted", "session_id", sessionID)
		c.store.UpdateMessage(replyID, func(m *store.ChatMessage) { m.IsStreaming = false })
		return nil
	default:
		slog.Error("Chat stream failed", "session_id", sessionID, "error", err)
		c.store.UpdateMessage(replyID, func(m *store.ChatMessage) {
			m.Content = ErrorMessageText
			m.IsStreaming = false
		})
		c.store.SetError(SendErrorText)
		return err
	}
}

// StopGeneration aborts the turn in flight. Content received so far stays.
func (c *Client) StopGeneration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(errStopped)
		c.store.SetStreaming(false)
	}
}

// LoadSession makes sessionID current and replaces the message list with
// its history.
func (c *Client) LoadSession(ctx context.Context, sessionID string) error {
	s, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		c.store.SetError(LoadErrorText)
		return err
	}

	session := toChatSession(s)
	history := make([]store.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		ts, err := backend.ParseTime(m.Timestamp)
		if err != nil {
			ts = c.now()
		}
		history = append(history, store.ChatMessage{
			ID:        uuid.New().String(),
			Role:      store.Role(m.Role),
			Content:   m.Content,
			Timestamp: ts,
		})
	}

	c.store.SetSession(session)
	c.store.SetMessages(history)
	return nil
}

// begin cancels the previous turn and registers a new one.
func (c *Client) begin(ctx context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(errStopped)
	}
	reqCtx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	c.gen++
	return reqCtx, c.gen
}

// end releases the turn unless a newer one replaced it.
func (c *Client) end(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.cancel(nil)
	c.cancel = nil
	c.store.SetStreaming(false)
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if s, ok := c.store.Session(); ok {
		return s.SessionID, nil
	}
	created, err := c.sessions.CreateSession(ctx, backend.CreateSessionRequest{
		TenantID: c.cfg.TenantID,
		UserID:   c.cfg.UserID,
		Metadata: map[string]any{"source": "web"},
	})
	if err != nil {
		return "", fmt.Errorf("could not create the conversation: %w", err)
	}
	session := toChatSession(created)
	if session.UserID == "" {
		session.UserID = c.cfg.UserID
	}
	c.store.SetSession(session)
	return session.SessionID, nil
}

func (c *Client) stream(ctx context.Context, sessionID, text, replyID string) error {
	body, err := json.Marshal(relay.StreamRequest{
		SessionID: sessionID,
		Message:   text,
		TenantID:  c.cfg.TenantID,
		UserID:    c.cfg.UserID,
	})
	if err != nil {
		return fmt.Errorf("encode stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.StreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return c.apply(NewParser(resp.Body), replyID)
}

// apply folds chunks into the reply message until done, an error chunk,
// or the end of the body.
func (c *Client) apply(p *Parser, replyID string) error {
	var full strings.Builder
	var suggestions []string

	finalize := func() {
		content := full.String()
		c.store.UpdateMessage(replyID, func(m *store.ChatMessage) {
			m.Content = content
			m.IsStreaming = false
			m.Suggestions = suggestions
		})
	}

	for {
		chunk, err := p.Next()
		if errors.Is(err, io.EOF) {
			finalize()
			return nil
		}
		if err != nil {
			return err
		}

		switch chunk.Type {
		case relay.ChunkContent:
			full.WriteString(chunk.Content)
			content := full.String()
			c.store.UpdateMessage(replyID, func(m *store.ChatMessage) { m.Content = content })
		case relay.ChunkSuggestions:
			suggestions = chunk.Suggestions
		case relay.ChunkDone:
			finalize()
			return nil
		case relay.ChunkError:
			return &StreamError{Message: chunk.Error}
		default:
			slog.Debug("Ignoring unknown stream chunk", "type", chunk.Type)
		}
	}
}

func toChatSession(s *backend.Session) store.ChatSession {
	session := store.ChatSession{
		SessionID:     s.SessionID,
		TenantID:      s.TenantID,
		UserID:        s.UserID,
		MessageCount:  s.MessageCount,
		HasActiveFlow: s.HasActiveFlow,
	}
	if t, err := backend.ParseTime(s.CreatedAt); err == nil {
		session.CreatedAt = t
	}
	session.UpdatedAt = session.CreatedAt
	if t, err := backend.ParseTime(s.UpdatedAt); err == nil {
		session.UpdatedAt = t
	}
	return session
}
