package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/latzu/latzu-edge/pkg/events"
)

const (
	// DefaultListLimit applies when a list call passes a non-positive limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single list call.
	MaxListLimit = 500
)

// InteractionService records interaction events received from clients.
// Ingestion is idempotent by event ID: clients re-send queued events after a
// reconnect, and a replay must not create a second row.
type InteractionService struct {
	db *stdsql.DB
}

// NewInteractionService creates a new InteractionService
func NewInteractionService(db *stdsql.DB) *InteractionService {
	return &InteractionService{db: db}
}

// Ingest stores event. inserted is false when an event with the same ID was
// already recorded; that case is not an error.
func (s *InteractionService) Ingest(ctx context.Context, event events.InteractionEvent) (bool, error) {
	if err := validateInteraction(event); err != nil {
		return false, err
	}
	content, err := event.Content()
	if err != nil {
		return false, NewValidationError("content", err.Error())
	}
	var metadata []byte
	if len(event.Metadata) > 0 {
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return false, NewValidationError("metadata", err.Error())
		}
	}
	var timeOnPage any
	if event.TimeOnPage != nil {
		timeOnPage = *event.TimeOnPage
	}
	schemaVersion := event.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = events.SchemaVersion
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_events (
			event_id, tenant_id, user_id, session_id, graph_id,
			interaction_type, content, current_topic, user_intent, previous_action,
			time_on_page, metadata, schema_version, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.TenantID, nullString(event.UserID), nullString(event.SessionID), nullString(event.GraphID),
		string(event.Type()), content, nullString(event.CurrentTopic), nullString(event.UserIntent), nullString(event.PreviousAction),
		timeOnPage, nullJSON(metadata), schemaVersion, event.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert interaction event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

const selectInteraction = `
	SELECT event_id, tenant_id, user_id, session_id, graph_id,
		interaction_type, content, current_topic, user_intent, previous_action,
		time_on_page, metadata, schema_version, occurred_at
	FROM interaction_events`

// Get returns a recorded event by ID.
func (s *InteractionService) Get(ctx context.Context, eventID string) (*events.InteractionEvent, error) {
	row := s.db.QueryRowContext(ctx, selectInteraction+` WHERE event_id = $1`, eventID)
	event, err := scanInteraction(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction event: %w", err)
	}
	return event, nil
}

// ListByUser returns a user's most recent events, newest first.
func (s *InteractionService) ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]events.InteractionEvent, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	rows, err := s.db.QueryContext(ctx,
		selectInteraction+` WHERE tenant_id = $1 AND user_id = $2 ORDER BY occurred_at DESC, event_id LIMIT $3`,
		tenantID, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list interaction events: %w", err)
	}
	defer rows.Close()

	result := []events.InteractionEvent{}
	for rows.Next() {
		event, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction event: %w", err)
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list interaction events: %w", err)
	}
	return result, nil
}

// DeleteReceivedBefore removes events received before cutoff and returns
// how many rows were deleted.
func (s *InteractionService) DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interaction_events WHERE received_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old interaction events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*events.InteractionEvent, error) {
	var (
		e                          events.InteractionEvent
		userID, sessionID, graphID stdsql.NullString
		topic, intent, previous    stdsql.NullString
		interactionType, content   string
		timeOnPage                 stdsql.NullInt64
		metadata                   []byte
	)
	err := row.Scan(&e.EventID, &e.TenantID, &userID, &sessionID, &graphID,
		&interactionType, &content, &topic, &intent, &previous,
		&timeOnPage, &metadata, &e.SchemaVersion, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.SessionID = sessionID.String
	e.GraphID = graphID.String
	e.CurrentTopic = topic.String
	e.UserIntent = intent.String
	e.PreviousAction = previous.String
	e.Timestamp = e.Timestamp.UTC()
	if timeOnPage.Valid {
		v := int(timeOnPage.Int64)
		e.TimeOnPage = &v
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
	}
	if err := e.SetContent(events.InteractionType(interactionType), content); err != nil {
		return nil, err
	}
	return &e, nil
}

// validateInteraction maps the event's own invariants onto field errors.
func validateInteraction(e events.InteractionEvent) error {
	switch {
	case e.EventID == "":
		return NewValidationError("eventId", "required")
	case e.TenantID == "":
		return NewValidationError("tenantId", "required")
	case e.Timestamp.IsZero():
		return NewValidationError("timestamp", "required")
	}
	if err := e.Validate(); err != nil {
		return NewValidationError("interactionType", err.Error())
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// compile-time check
var _ events.InteractionSink = (*InteractionService)(nil)
