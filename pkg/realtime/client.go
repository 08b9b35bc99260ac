// Package realtime implements the client side of the realtime channel: a
// single WebSocket connection bound to one identity, fire-and-forget
// interaction emission with a persistent queue fallback, and typed
// subscriptions to server push events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/store"
)

// Identity headers sent with the WebSocket handshake.
const (
	HeaderUserID   = "X-User-Id"
	HeaderTenantID = "X-Tenant-Id"
)

// ErrMaxAttempts is returned by Connect when every dial attempt failed.
var ErrMaxAttempts = errors.New("failed to connect after max attempts")

// errConnectionReplaced aborts a flush whose connection was detached.
var errConnectionReplaced = errors.New("connection replaced")

// Config controls the transport client.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	OutboundBuffer       int
	// MaxRetries bounds flush attempts per queued event; 0 retries forever.
	MaxRetries int
	HTTPClient *http.Client
}

// DefaultConfig returns the documented transport defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		InitialBackoff:       time.Second,
		MaxBackoff:           5 * time.Second,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		OutboundBuffer:       64,
		MaxRetries:           5,
	}
}

// Handler receives push frames of one type.
type Handler func(events.Frame)

// Client is the realtime transport client. One Client holds at most one
// live connection. All methods are safe for concurrent use.
type Client struct {
	cfg   Config
	store *store.EventStore
	chat  *store.ChatStore

	// connectMu serializes Connect, Disconnect and background reconnection.
	connectMu sync.Mutex

	// mu guards the connection state below. EmitInteraction queues under mu
	// while the connection is not open, which lets flush decide atomically
	// that the queue is drained.
	mu              sync.Mutex
	identity        events.Identity
	conn            *websocket.Conn
	connCancel      context.CancelFunc
	outbound        chan events.InteractionEvent
	open            bool
	reconnectCancel context.CancelFunc

	handlersMu  sync.RWMutex
	handlers    map[string]map[uint64]Handler
	nextHandler uint64

	now   func() time.Time
	write func(ctx context.Context, conn *websocket.Conn, data []byte) error
}

// NewClient creates a transport client backed by the given stores.
// chat may be nil; default suggestion merging is then disabled.
func NewClient(cfg Config, eventStore *store.EventStore, chat *store.ChatStore) *Client {
	def := DefaultConfig(cfg.URL)
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = def.OutboundBuffer
	}
	return &Client{
		cfg:      cfg,
		store:    eventStore,
		chat:     chat,
		handlers: make(map[string]map[uint64]Handler),
		now:      func() time.Time { return time.Now().UTC() },
		write: func(ctx context.Context, conn *websocket.Conn, data []byte) error {
			return conn.Write(ctx, websocket.MessageText, data)
		},
	}
}

// Connect opens the connection for the given identity and flushes queued
// events. It is a no-op when a connection for the same identity exists;
// a different identity replaces the current connection. It fails with
// ErrMaxAttempts once the attempt budget is spent.
func (c *Client) Connect(ctx context.Context, userID, tenantID string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	identity := events.Identity{TenantID: tenantID, UserID: userID}

	c.mu.Lock()
	if c.conn != nil && c.identity == identity {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	old, oldCancel := c.detachLocked()
	c.identity = identity
	c.mu.Unlock()

	if old != nil {
		closeConn(old, oldCancel, websocket.StatusNormalClosure, "identity changed")
		c.store.SetConnected(false)
	}

	conn, err := c.dialWithRetry(ctx, identity)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// Disconnect closes the connection and stops background reconnection.
// Queued events are kept for the next Connect.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	c.stopReconnectLocked()
	old, cancel := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		closeConn(old, cancel, websocket.StatusNormalClosure, "client disconnect")
	}
	c.store.SetConnected(false)
}

// IsConnected reports whether the connection is open for emission.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Identity returns the identity the client is bound to.
func (c *Client) Identity() events.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// EmitInteraction sends event on the open connection or queues it. Event
// id, timestamp and schema version are filled; tenant and user fall back
// to the bound identity when omitted. It never blocks and never fails.
func (c *Client) EmitInteraction(event events.InteractionEvent) {
	if event.Payload == nil {
		slog.Warn("Dropping interaction event without payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := event.Prepare(c.identity.TenantID, c.identity.UserID, c.now())
	if c.open {
		select {
		case c.outbound <- e:
			return
		default:
			slog.Warn("Outbound buffer full, queueing interaction event", "event_id", e.EventID)
		}
	}
	c.store.QueueEvent(e)
}

// On registers handler for push frames of eventType. Multiple handlers per
// type are allowed.
func (c *Client) On(eventType string, handler Handler) *Subscription {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextHandler++
	id := c.nextHandler
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[uint64]Handler)
	}
	c.handlers[eventType][id] = handler

	return &Subscription{unsubscribe: func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.handlers[eventType], id)
		if len(c.handlers[eventType]) == 0 {
			delete(c.handlers, eventType)
		}
	}}
}

// Subscribe registers a handler that receives the decoded payload of push
// frames of eventType. Frames that do not decode into T are logged and skipped.
func Subscribe[T any](c *Client, eventType string, fn func(T)) *Subscription {
	return c.On(eventType, func(f events.Frame) {
		var v T
		if err := f.Decode(&v); err != nil {
			slog.Warn("Failed to decode push payload", "type", eventType, "error", err)
			return
		}
		fn(v)
	})
}

// Subscription is returned by On; Unsubscribe removes exactly that handler.
type Subscription struct {
	once        sync.Once
	unsubscribe func()
}

// Unsubscribe deregisters the handler. Repeated calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}

func (c *Client) handlersFor(eventType string) []Handler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	out := make([]Handler, 0, len(c.handlers[eventType]))
	for _, h := range c.handlers[eventType] {
		out = append(out, h)
	}
	return out
}

// dialWithRetry dials up to MaxReconnectAttempts times with capped
// exponential backoff between attempts.
func (c *Client) dialWithRetry(ctx context.Context, identity events.Identity) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		conn, err := c.dial(ctx, identity)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("Realtime connection attempt failed",
			"attempt", attempt, "max_attempts", c.cfg.MaxReconnectAttempts, "error", err)

		if attempt == c.cfg.MaxReconnectAttempts {
			break
		}
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxAttempts, lastErr)
}

func (c *Client) dial(ctx context.Context, identity events.Identity) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("user_id", identity.UserID)
	q.Set("tenant_id", identity.TenantID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(HeaderUserID, identity.UserID)
	header.Set(HeaderTenantID, identity.TenantID)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	return conn, err
}

// attach installs a freshly dialed connection, starts its loops and
// flushes the queue.
func (c *Client) attach(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan events.InteractionEvent, c.cfg.OutboundBuffer)

	c.mu.Lock()
	c.conn = conn
	c.connCancel = cancel
	c.outbound = out
	c.open = false
	identity := c.identity
	c.mu.Unlock()

	c.store.SetConnected(true)
	slog.Info("Realtime connection established",
		"tenant_id", identity.TenantID, "user_id", identity.UserID)

	go c.readLoop(ctx, conn)

	if err := c.flush(ctx, conn); err != nil {
		c.handleDrop(conn, err)
		return
	}
	c.store.ClearQueue()

	go c.writeLoop(ctx, conn, out)
}

// flush sends pending events in order until the queue is drained, then
// opens the connection for direct emission. A failed write returns the
// item to pending (or failed once MaxRetries is reached) and aborts.
func (c *Client) flush(ctx context.Context, conn *websocket.Conn) error {
	for {
		pending := c.store.PendingEvents()
		if len(pending) == 0 {
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return errConnectionReplaced
			}
			if c.store.QueueDepth() > 0 {
				c.mu.Unlock()
				continue
			}
			c.open = true
			c.mu.Unlock()
			return nil
		}

		for _, item := range pending {
			id := item.Event.EventID
			c.store.MarkEventSending(id)
			if err := c.writeEvent(ctx, conn, item.Event); err != nil {
				status := c.store.MarkEventRetry(id, c.cfg.MaxRetries)
				slog.Warn("Failed to flush queued event",
					"event_id", id, "status", status, "error", err)
				return fmt.Errorf("flush event %s: %w", id, err)
			}
			c.store.MarkEventSent(id)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan events.InteractionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-out:
			if err := c.writeEvent(ctx, conn, e); err != nil {
				c.store.QueueEvent(e)
				c.handleDrop(conn, err)
				return
			}
			c.store.MarkEventSent(e.EventID)
		}
	}
}

func (c *Client) writeEvent(ctx context.Context, conn *websocket.Conn, e events.InteractionEvent) error {
	frame, err := events.NewFrame(events.EventTypeUserInteraction, e)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.write(writeCtx, conn, raw)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		var frame events.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid realtime frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch delivers a frame to its handlers and applies the store side
// effects of notification, achievement and proactive_suggestion events.
func (c *Client) dispatch(frame events.Frame) {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = c.now()
	}

	switch frame.Type {
	case events.EventTypeConnectionEstablished, events.EventTypePong:
		slog.Debug("Realtime control frame", "type", frame.Type)
		return
	case events.EventTypeError:
		var p events.ErrorPayload
		_ = frame.Decode(&p)
		slog.Warn("Realtime gateway reported an error", "message", p.Message)
	}

	handlers := c.handlersFor(frame.Type)
	for _, h := range handlers {
		h(frame)
	}

	if n, ok := events.NotificationFromPush(frame, ""); ok {
		c.store.AddNotification(n)
	}

	if frame.Type == events.PushTypeProactiveSuggestion && len(handlers) == 0 && c.chat != nil {
		var sg events.ProactiveSuggestion
		if err := frame.Decode(&sg); err != nil {
			slog.Warn("Invalid proactive suggestion", "error", err)
			return
		}
		c.chat.MergeSuggestion(sg)
	}
}

// handleDrop tears down conn after an unexpected failure and starts
// background reconnection for the same identity.
func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	_, cancel := c.detachLocked()
	identity := c.identity
	rctx, rcancel := context.WithCancel(context.Background())
	c.reconnectCancel = rcancel
	c.mu.Unlock()

	// The peer is gone; skip the close handshake.
	cancel()
	_ = conn.CloseNow()
	c.store.SetConnected(false)
	slog.Warn("Realtime connection lost, reconnecting", "error", cause)

	go c.reconnect(rctx, identity)
}

func (c *Client) reconnect(ctx context.Context, identity events.Identity) {
	conn, err := c.dialWithRetry(ctx, identity)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Realtime reconnection gave up", "error", err)
		}
		return
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	stale := ctx.Err() != nil || c.conn != nil || c.identity != identity
	if !stale {
		c.reconnectCancel = nil
	}
	c.mu.Unlock()

	if stale {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.attach(conn)
}

// detachLocked clears the connection state and moves buffered outbound
// events back into the queue. Caller holds c.mu.
func (c *Client) detachLocked() (*websocket.Conn, context.CancelFunc) {
	conn, cancel := c.conn, c.connCancel
	c.conn, c.connCancel = nil, nil
	c.open = false

	if c.outbound != nil {
	drain:
		for {
			select {
			case e := <-c.outbound:
				c.store.QueueEvent(e)
			default:
				break drain
			}
		}
		c.outbound = nil
	}
	return conn, cancel
}

// stopReconnectLocked cancels background reconnection. Caller holds c.mu.
func (c *Client) stopReconnectLocked() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc, code websocket.StatusCode, reason string) {
	_ = conn.Close(code, reason)
	if cancel != nil {
		cancel()
	}
}
