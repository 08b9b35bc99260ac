package events

import "time"

// QueueStatus is the delivery state of a queued event.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSending QueueStatus = "sending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// EventQueueItem wraps an interaction event with delivery bookkeeping.
type EventQueueItem struct {
	ID         string           `json:"id"`
	Event      InteractionEvent `json:"event"`
	Timestamp  time.Time        `json:"timestamp"` // enqueue time
	Status     QueueStatus      `json:"status"`
	RetryCount int              `json:"retryCount"`
}

// NotificationType classifies an inbox entry.
type NotificationType string

const (
	NotificationSuggestion  NotificationType = "suggestion"
	NotificationAchievement NotificationType = "achievement"
	NotificationReminder    NotificationType = "reminder"
	NotificationSystem      NotificationType = "system"
)

// Notification is a user-visible record derived from a push event.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
	Action    *Action          `json:"action,omitempty"`
}

// DefaultNotificationTitle is used when a push event carries no title.
const DefaultNotificationTitle = "Notification"

// NotificationFromPush synthesizes a notification from a notification or
// achievement push frame. ok is false for other frame types.
func NotificationFromPush(f Frame, id string) (n Notification, ok bool) {
	var typ NotificationType
	switch f.Type {
	case PushTypeNotification:
		typ = NotificationSystem
	case PushTypeAchievement:
		typ = NotificationAchievement
	default:
		return Notification{}, false
	}

	var body AchievementPayload
	// Malformed bodies still produce a notification with defaults.
	_ = f.Decode(&body)

	title := body.Title
	if title == "" {
		title = DefaultNotificationTitle
	}
	message := body.Message
	if message == "" {
		message = body.Description
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return Notification{
		ID:        id,
		Type:      typ,
		Title:     title,
		Message:   message,
		Timestamp: ts,
		Action:    body.Action,
	}, true
}
