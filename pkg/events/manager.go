package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// listenTimeout bounds how long a LISTEN command may block when the first
// connection of an identity registers. Without this, a stalled database
// connection would block the connection handler indefinitely.
const listenTimeout = 10 * time.Second

// defaultWriteTimeout applies when NewConnectionManager gets a zero timeout.
const defaultWriteTimeout = 10 * time.Second

// ingestTimeout bounds a single InteractionSink.Ingest call.
const ingestTimeout = 10 * time.Second

// Identity is the tenant/user pair a realtime connection is bound to.
type Identity struct {
	TenantID string
	UserID   string
}

// Channel returns the push delivery channel of the identity.
func (i Identity) Channel() string {
	return UserChannel(i.TenantID, i.UserID)
}

// InteractionSink accepts interaction events received from clients.
// Ingest must be idempotent by EventID: a replayed event reports
// inserted=false and no error.
type InteractionSink interface {
	Ingest(ctx context.Context, event InteractionEvent) (inserted bool, err error)
}

// ConnectionManager manages realtime WebSocket connections. Each connection
// is bound to one identity and subscribed to that identity's user channel;
// push events broadcast on the channel reach every open tab of the user.
// Each Go process (pod) has one ConnectionManager instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	sink InteractionSink

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
type Connection struct {
	ID       string
	Identity Identity
	Conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager. sink may be nil,
// in which case interaction frames are acknowledged in the log only.
func NewConnectionManager(sink InteractionSink, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		sink:         sink,
		writeTimeout: writeTimeout,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, identity Identity) {
	if identity.TenantID == "" {
		identity.TenantID = DefaultTenantID
	}
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:       connID,
		Identity: identity,
		Conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendFrame(c, EventTypeConnectionEstablished, ConnectionEstablishedPayload{ConnectionID: connID})

	if err := m.subscribe(c, identity.Channel()); err != nil {
		// Inbound interactions still work; only push delivery is degraded.
		m.sendError(c, "push channel unavailable")
	}

	slog.Debug("Realtime connection opened",
		"connection_id", connID, "tenant_id", identity.TenantID, "user_id", identity.UserID)

	// Read loop: process client frames until the connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame",
				"connection_id", connID, "error", err)
			m.sendError(c, "invalid frame")
			continue
		}

		m.handleFrame(ctx, c, frame)
	}
}

// Broadcast sends a pre-encoded frame to all connections subscribed to the given channel.
func (m *ConnectionManager) Broadcast(channel string, frame []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then release before sending so a slow
	// client (up to writeTimeout) does not stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, frame); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// handleFrame dispatches a client frame to the appropriate handler.
func (m *ConnectionManager) handleFrame(ctx context.Context, c *Connection, frame Frame) {
	switch frame.Type {
	case EventTypeUserInteraction:
		m.handleInteraction(ctx, c, frame)
	case EventTypePing:
		m.sendFrame(c, EventTypePong, nil)
	default:
		slog.Debug("Ignoring unknown frame type",
			"connection_id", c.ID, "type", frame.Type)
	}
}

// handleInteraction validates an interaction frame and hands it to the sink.
// The connection identity replaces any tenant/user the client put in the event.
func (m *ConnectionManager) handleInteraction(ctx context.Context, c *Connection, frame Frame) {
	var event InteractionEvent
	if err := frame.Decode(&event); err != nil {
		slog.Warn("Invalid interaction event", "connection_id", c.ID, "error", err)
		m.sendError(c, "invalid interaction event")
		return
	}
	event = event.BindIdentity(c.Identity.TenantID, c.Identity.UserID)
	if err := event.Validate(); err != nil {
		slog.Warn("Rejected interaction event",
			"connection_id", c.ID, "event_id", event.EventID, "error", err)
		m.sendError(c, err.Error())
		return
	}

	if m.sink == nil {
		slog.Debug("Interaction received", "event_id", event.EventID, "type", event.Type())
		return
	}

	ingestCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()
	inserted, err := m.sink.Ingest(ingestCtx, event)
	if err != nil {
		slog.Error("Failed to ingest interaction event",
			"connection_id", c.ID, "event_id", event.EventID, "error", err)
		m.sendError(c, "failed to record interaction")
		return
	}
	if !inserted {
		slog.Debug("Duplicate interaction event ignored", "event_id", event.EventID)
	}
}

// subscribe registers a connection for a channel and starts LISTEN if first subscriber.
// LISTEN is synchronous so push events published after the connection is
// established are not lost.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if !needsListen {
		return nil
	}

	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return nil
	}

	listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
	defer listenCancel()
	if err := l.Subscribe(listenCtx, channel); err != nil {
		slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
		// Drop the channel so the next connection of this identity retries LISTEN.
		m.channelMu.Lock()
		delete(m.channels, channel)
		m.channelMu.Unlock()
		return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
	}
	return nil
}

// unsubscribe removes a connection from a channel and stops LISTEN if last subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()

	subs, exists := m.channels[channel]
	if !exists {
		return
	}
	delete(subs, c.ID)
	if len(subs) > 0 {
		return
	}
	delete(m.channels, channel)

	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return
	}

	// Re-check before UNLISTEN: a page reload closes and reopens the
	// connection of the same identity in quick succession.
	go func() {
		m.channelMu.RLock()
		_, resubscribed := m.channels[channel]
		m.channelMu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and its channel subscription.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.unsubscribe(c, c.Identity.Channel())

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendError(c *Connection, message string) {
	m.sendFrame(c, EventTypeError, ErrorPayload{Message: message})
}

// sendFrame encodes and sends a frame to a single connection.
func (m *ConnectionManager) sendFrame(c *Connection, frameType string, data any) {
	frame, err := NewFrame(frameType, data)
	if err != nil {
		slog.Warn("Failed to build WebSocket frame",
			"connection_id", c.ID, "type", frameType, "error", err)
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, raw); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Failed to send WebSocket frame",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
