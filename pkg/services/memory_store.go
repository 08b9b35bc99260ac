package services

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/latzu/latzu-edge/pkg/events"
)

// MemoryInteractionStore keeps interaction events in process memory. It
// backs the gateway when no database is configured and honours the same
// contract as InteractionService, including idempotency by event ID.
type MemoryInteractionStore struct {
	mu     sync.RWMutex
	byID   map[string]events.InteractionEvent
	order  []memoryEntry // receive order
	maxLen int
	now    func() time.Time
}

type memoryEntry struct {
	id         string
	receivedAt time.Time
}

// NewMemoryInteractionStore creates a store holding at most maxEvents
// events; the oldest are evicted first. maxEvents <= 0 means unbounded.
func NewMemoryInteractionStore(maxEvents int) *MemoryInteractionStore {
	return &MemoryInteractionStore{
		byID:   make(map[string]events.InteractionEvent),
		maxLen: maxEvents,
		now:    time.Now,
	}
}

// Ingest records event unless its ID is already known.
func (m *MemoryInteractionStore) Ingest(_ context.Context, event events.InteractionEvent) (bool, error) {
	if err := validateInteraction(event); err != nil {
		return false, err
	}
	if _, err := event.Content(); err != nil {
		return false, NewValidationError("content", err.Error())
	}
	if event.SchemaVersion == "" {
		event.SchemaVersion = events.SchemaVersion
	}
	event.Timestamp = event.Timestamp.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[event.EventID]; exists {
		return false, nil
	}
	m.byID[event.EventID] = event
	m.order = append(m.order, memoryEntry{id: event.EventID, receivedAt: m.now()})
	if m.maxLen > 0 && len(m.order) > m.maxLen {
		delete(m.byID, m.order[0].id)
		m.order = m.order[1:]
	}
	return true, nil
}

// Get returns a recorded event by ID.
func (m *MemoryInteractionStore) Get(_ context.Context, eventID string) (*events.InteractionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.byID[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &event, nil
}

// ListByUser returns a user's most recent events, newest first.
func (m *MemoryInteractionStore) ListByUser(_ context.Context, tenantID, userID string, limit int) ([]events.InteractionEvent, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	m.mu.RLock()
	result := []events.InteractionEvent{}
	for _, entry := range m.order {
		e := m.byID[entry.id]
		if e.TenantID == tenantID && e.UserID == userID {
			result = append(result, e)
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b events.InteractionEvent) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.EventID, b.EventID)
	})
	if n := clampLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// DeleteReceivedBefore drops events received before cutoff.
func (m *MemoryInteractionStore) DeleteReceivedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for n < len(m.order) && m.order[n].receivedAt.Before(cutoff) {
		delete(m.byID, m.order[n].id)
		n++
	}
	m.order = m.order[n:]
	return int64(n), nil
}

// Len returns the number of stored events.
func (m *MemoryInteractionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

var _ events.InteractionSink = (*MemoryInteractionStore)(nil)
