package events

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// maxNotifyPayload stays under PostgreSQL's 8000-byte NOTIFY limit.
const maxNotifyPayload = 7900

// maxChannelLength is PostgreSQL's identifier limit (NAMEDATALEN-1).
const maxChannelLength = 63

// ErrPayloadTooLarge is returned when an encoded push frame exceeds the
// NOTIFY payload limit. Push payloads are not persisted, so there is no
// truncated form a client could resolve later.
var ErrPayloadTooLarge = errors.New("push payload exceeds NOTIFY limit")

// ErrUnknownPushType is returned when publishing to a non-push channel.
var ErrUnknownPushType = errors.New("unknown push type")

// Publisher delivers push events to every connection of one identity.
type Publisher interface {
	Publish(ctx context.Context, identity Identity, pushType string, data any) error
}

// EventPublisher publishes push events through PostgreSQL NOTIFY so that
// every replica's NotifyListener forwards them to its local connections.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// Publish encodes a push frame and broadcasts it on the identity's user channel.
func (p *EventPublisher) Publish(ctx context.Context, identity Identity, pushType string, data any) error {
	payload, err := encodePush(pushType, data)
	if err != nil {
		return err
	}
	return p.notifyOnly(ctx, identity.Channel(), payload)
}

// notifyOnly broadcasts a pre-marshaled frame via NOTIFY.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	_, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", pgChannel(channel), string(payload))
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// LocalPublisher delivers push events directly to a single process's
// ConnectionManager. Used when no database is configured.
type LocalPublisher struct {
	manager *ConnectionManager
}

// NewLocalPublisher creates a publisher bound to manager.
func NewLocalPublisher(manager *ConnectionManager) *LocalPublisher {
	return &LocalPublisher{manager: manager}
}

// Publish encodes a push frame and broadcasts it in-process.
func (p *LocalPublisher) Publish(_ context.Context, identity Identity, pushType string, data any) error {
	payload, err := encodePush(pushType, data)
	if err != nil {
		return err
	}
	p.manager.Broadcast(identity.Channel(), payload)
	return nil
}

func encodePush(pushType string, data any) ([]byte, error) {
	if !IsPushType(pushType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPushType, pushType)
	}
	frame, err := NewFrame(pushType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", pushType, err)
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", pushType, err)
	}
	return payload, nil
}

// pgChannel maps a logical channel name to a PostgreSQL channel identifier.
// Names longer than the identifier limit are replaced by a stable digest,
// since LISTEN silently truncates while pg_notify rejects them.
func pgChannel(channel string) string {
	if len(channel) <= maxChannelLength {
		return channel
	}
	sum := sha256.Sum256([]byte(channel))
	return "user_" + hex.EncodeToString(sum[:])[:48]
}
