// Package store holds the client-side application state: the outbound
// event queue with its connection flags, the notification inbox and the
// chat message store. Stores are explicit objects owned by the
// application and safe for concurrent use.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latzu/latzu-edge/pkg/events"
)

// DefaultNotificationLimit caps the notification inbox.
const DefaultNotificationLimit = 50

// EventStore is the event queue, connection state and notification inbox
// shared by the transport client and the tracking layer.
type EventStore struct {
	mu sync.RWMutex

	queue         []events.EventQueueItem
	connected     bool
	lastEventSent time.Time

	notifications     []events.Notification
	notificationLimit int

	listeners []func()
	now       func() time.Time
}

// NewEventStore creates an empty store. A non-positive limit selects
// DefaultNotificationLimit.
func NewEventStore(notificationLimit int) *EventStore {
	if notificationLimit <= 0 {
		notificationLimit = DefaultNotificationLimit
	}
	return &EventStore{
		notificationLimit: notificationLimit,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers fn to be called after every state change.
// fn runs outside the store lock but may run while the transport client
// holds its own lock, so it must not block or call back into the client.
func (s *EventStore) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// QueueEvent appends a pending item for event.
func (s *EventStore) QueueEvent(event events.InteractionEvent) events.EventQueueItem {
	item := events.EventQueueItem{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: s.now(),
		Status:    events.QueueStatusPending,
	}
	s.mutate(func() {
		s.queue = append(s.queue, item)
	})
	return item
}

// MarkEventSent marks the item carrying eventID as sent and stamps
// LastEventSent. Unknown ids still update the stamp: an event emitted on
// an open connection is never queued.
func (s *EventStore) MarkEventSent(eventID string) {
	s.mutate(func() {
		s.setStatus(eventID, events.QueueStatusSent)
		s.lastEventSent = s.now()
	})
}

// MarkEventSending marks the item carrying eventID as in flight.
func (s *EventStore) MarkEventSending(eventID string) {
	s.mutate(func() {
		s.setStatus(eventID, events.QueueStatusSending)
	})
}

// MarkEventRetry returns an in-flight item to pending after a failed write,
// or to failed once its retry count reaches maxRetries. It reports the
// resulting status.
func (s *EventStore) MarkEventRetry(eventID string, maxRetries int) events.QueueStatus {
	status := events.QueueStatusPending
	s.mutate(func() {
		for i := range s.queue {
			if s.queue[i].Event.EventID != eventID {
				continue
			}
			s.queue[i].RetryCount++
			if maxRetries > 0 && s.queue[i].RetryCount >= maxRetries {
				status = events.QueueStatusFailed
			}
			s.queue[i].Status = status
			return
		}
	})
	return status
}

func (s *EventStore) setStatus(eventID string, status events.QueueStatus) {
	for i := range s.queue {
		if s.queue[i].Event.EventID == eventID {
			s.queue[i].Status = status
			return
		}
	}
}

// PendingEvents returns the pending items in enqueue order.
func (s *EventStore) PendingEvents() []events.EventQueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.EventQueueItem
	for _, item := range s.queue {
		if item.Status == events.QueueStatusPending {
			out = append(out, item)
		}
	}
	return out
}

// ClearQueue removes sent items and keeps everything else.
func (s *EventStore) ClearQueue() {
	s.mutate(func() {
		kept := s.queue[:0]
		for _, item := range s.queue {
			if item.Status != events.QueueStatusSent {
				kept = append(kept, item)
			}
		}
		// Zero the tail so dropped items can be collected.
		for i := len(kept); i < len(s.queue); i++ {
			s.queue[i] = events.EventQueueItem{}
		}
		s.queue = kept
	})
}

// Queue returns a snapshot of every queued item.
func (s *EventStore) Queue() []events.EventQueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.EventQueueItem(nil), s.queue...)
}

// QueueDepth returns the number of pending items.
func (s *EventStore) QueueDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.queue {
		if item.Status == events.QueueStatusPending {
			n++
		}
	}
	return n
}

// SetConnected records the transport connection state.
func (s *EventStore) SetConnected(connected bool) {
	s.mutate(func() {
		s.connected = connected
	})
}

// IsConnected reports the last recorded connection state.
func (s *EventStore) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastEventSent returns when an event was last handed to the transport.
// The zero time means nothing was sent yet.
func (s *EventStore) LastEventSent() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEventSent
}

// AddNotification prepends n to the inbox, dropping the oldest entries
// beyond the limit. Missing id and timestamp are filled.
func (s *EventStore) AddNotification(n events.Notification) events.Notification {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now()
	}
	s.mutate(func() {
		list := make([]events.Notification, 0, min(len(s.notifications)+1, s.notificationLimit))
		list = append(list, n)
		for _, existing := range s.notifications {
			if len(list) == s.notificationLimit {
				break
			}
			list = append(list, existing)
		}
		s.notifications = list
	})
	return n
}

// MarkNotificationRead marks a notification read. Repeated calls and
// unknown ids are no-ops.
func (s *EventStore) MarkNotificationRead(id string) {
	s.mutate(func() {
		for i := range s.notifications {
			if s.notifications[i].ID == id {
				s.notifications[i].Read = true
				return
			}
		}
	})
}

// MarkAllNotificationsRead marks every notification read.
func (s *EventStore) MarkAllNotificationsRead() {
	s.mutate(func() {
		for i := range s.notifications {
			s.notifications[i].Read = true
		}
	})
}

// Notifications returns the inbox, newest first.
func (s *EventStore) Notifications() []events.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.Notification(nil), s.notifications...)
}

// UnreadCount returns the number of unread notifications.
func (s *EventStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

// ClearNotifications empties the inbox.
func (s *EventStore) ClearNotifications() {
	s.mutate(func() {
		s.notifications = nil
	})
}

// Reset drops all state, e.g. on logout.
func (s *EventStore) Reset() {
	s.mutate(func() {
		s.queue = nil
		s.connected = false
		s.lastEventSent = time.Time{}
		s.notifications = nil
	})
}

// mutate applies fn under the write lock and then notifies listeners.
func (s *EventStore) mutate(fn func()) {
	s.mu.Lock()
	fn()
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}
