// Package events defines the realtime event model shared by the transport
// client and the gateway, and the server-side gateway that terminates
// WebSocket connections and fans out push events.
//
// ════════════════════════════════════════════════════════════════
// Frame flow
// ════════════════════════════════════════════════════════════════
//
// Every message on the realtime channel is a Frame:
//
//   {"type": "<channel>", "data": {...}, "timestamp": "RFC3339Nano"}
//
// Client → gateway:
//
//   user_interaction   data = InteractionEvent
//   ping               no data
//
// Gateway → client:
//
//   connection.established  {connection_id}
//   pong
//   error                   {message}
//   proactive_suggestion    data = ProactiveSuggestion
//   knowledge_update        data = opaque object
//   lesson_unlocked         data = LessonUnlockedPayload
//   achievement             data = AchievementPayload
//   notification            data = NotificationPayload
//
// Push payloads are interpreted per type by the client; the gateway never
// inspects them.
//
// ════════════════════════════════════════════════════════════════
package events

import (
	"encoding/json"
	"time"
)

// Outbound (client → gateway) channel names.
const (
	EventTypeUserInteraction = "user_interaction"
	EventTypePing            = "ping"
)

// Inbound push channel names.
const (
	PushTypeProactiveSuggestion = "proactive_suggestion"
	PushTypeKnowledgeUpdate     = "knowledge_update"
	PushTypeLessonUnlocked      = "lesson_unlocked"
	PushTypeAchievement         = "achievement"
	PushTypeNotification        = "notification"
)

// Control frames sent by the gateway.
const (
	EventTypeConnectionEstablished = "connection.established"
	EventTypePong                  = "pong"
	EventTypeError                 = "error"
)

// PushTypes lists every push channel a client may subscribe to.
var PushTypes = []string{
	PushTypeProactiveSuggestion,
	PushTypeKnowledgeUpdate,
	PushTypeLessonUnlocked,
	PushTypeAchievement,
	PushTypeNotification,
}

// IsPushType reports whether t names a server push channel.
func IsPushType(t string) bool {
	for _, p := range PushTypes {
		if p == t {
			return true
		}
	}
	return false
}

// UserChannel returns the delivery channel for one identity.
// Format: "user:{tenant_id}:{user_id}"
func UserChannel(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID
}

// Frame is the envelope for every realtime message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame marshals data into a frame of the given type.
// A nil data value produces a frame without a data field.
func NewFrame(frameType string, data any) (Frame, error) {
	f := Frame{Type: frameType, Timestamp: time.Now().UTC()}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}
