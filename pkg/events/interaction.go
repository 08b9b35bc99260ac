package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every interaction event.
const SchemaVersion = "1.0"

// DefaultTenantID is used when neither the caller nor the bound identity
// supplies a tenant.
const DefaultTenantID = "default"

// Source identifies who produced an event.
type Source string

const (
	SourceUser    Source = "user"
	SourceAIModel Source = "ai_model"
	SourceSystem  Source = "system"
)

// InteractionType tags the payload carried by an InteractionEvent.
type InteractionType string

const (
	InteractionChatMessage        InteractionType = "chat_message"
	InteractionLessonProgress     InteractionType = "lesson_progress"
	InteractionConceptExploration InteractionType = "concept_exploration"
	InteractionQuestionAsked      InteractionType = "question_asked"
	InteractionFeedbackGiven      InteractionType = "feedback_given"
	InteractionNavigation         InteractionType = "navigation"
	InteractionQuizAttempt        InteractionType = "quiz_attempt"
	InteractionExerciseSubmission InteractionType = "exercise_submission"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionChatMessage, InteractionLessonProgress, InteractionConceptExploration,
		InteractionQuestionAsked, InteractionFeedbackGiven, InteractionNavigation,
		InteractionQuizAttempt, InteractionExerciseSubmission:
		return true
	}
	return false
}

var (
	// ErrMissingPayload is returned when an interaction event has no payload.
	ErrMissingPayload = errors.New("interaction event has no payload")

	// ErrUnknownInteractionType is returned when decoding an unknown interactionType.
	ErrUnknownInteractionType = errors.New("unknown interaction type")
)

// InteractionEvent is an immutable record of a user action sent to the
// backend. EventID is the de-duplication and acknowledgment key.
//
// Exactly one Payload is carried; its concrete type determines the
// interactionType on the wire.
type InteractionEvent struct {
	EventID        string
	TenantID       string
	UserID         string
	SessionID      string
	GraphID        string
	CurrentTopic   string
	UserIntent     string
	PreviousAction string
	TimeOnPage     *int // seconds
	Metadata       map[string]any
	Timestamp      time.Time
	SchemaVersion  string
	Payload        Payload
}

// Type returns the interaction type of the carried payload.
func (e InteractionEvent) Type() InteractionType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.InteractionType()
}

// Prepare returns a copy of e ready for emission: event id, timestamp and
// schema version are filled, and tenant/user fall back to the given
// identity when the caller left them empty.
func (e InteractionEvent) Prepare(tenantID, userID string, now time.Time) InteractionEvent {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	e.SchemaVersion = SchemaVersion
	if e.TenantID == "" {
		e.TenantID = tenantID
	}
	if e.TenantID == "" {
		e.TenantID = DefaultTenantID
	}
	if e.UserID == "" {
		e.UserID = userID
	}
	return e
}

// BindIdentity returns a copy of e owned by the given identity. Server-side
// ingestion uses it so ids inside the event can never name another tenant
// or user.
func (e InteractionEvent) BindIdentity(tenantID, userID string) InteractionEvent {
	e.TenantID = tenantID
	if e.TenantID == "" {
		e.TenantID = DefaultTenantID
	}
	e.UserID = userID
	return e
}

// Validate checks the invariants the gateway relies on before ingesting.
func (e InteractionEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenantId is required")
	}
	if e.Payload == nil {
		return ErrMissingPayload
	}
	if !e.Payload.InteractionType().Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownInteractionType, e.Payload.InteractionType())
	}
	return nil
}

// interactionWire is the JSON shape of an InteractionEvent.
type interactionWire struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	Source          Source          `json:"source"`
	InteractionType InteractionType `json:"interactionType"`
	Content         string          `json:"content"`
	TenantID        string          `json:"tenantId"`
	UserID          string          `json:"userId,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
	GraphID         string          `json:"graphId,omitempty"`
	CurrentTopic    string          `json:"currentTopic,omitempty"`
	UserIntent      string          `json:"userIntent,omitempty"`
	PreviousAction  string          `json:"previousAction,omitempty"`
	TimeOnPage      *int            `json:"timeOnPage,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	SchemaVersion   string          `json:"schemaVersion"`
}

// MarshalJSON flattens the payload into interactionType + content.
func (e InteractionEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, ErrMissingPayload
	}
	content, err := encodeContent(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s content: %w", e.Payload.InteractionType(), err)
	}
	return json.Marshal(interactionWire{
		EventID:         e.EventID,
		EventType:       EventTypeUserInteraction,
		Source:          SourceUser,
		InteractionType: e.Payload.InteractionType(),
		Content:         content,
		TenantID:        e.TenantID,
		UserID:          e.UserID,
		SessionID:       e.SessionID,
		GraphID:         e.GraphID,
		CurrentTopic:    e.CurrentTopic,
		UserIntent:      e.UserIntent,
		PreviousAction:  e.PreviousAction,
		TimeOnPage:      e.TimeOnPage,
		Metadata:        e.Metadata,
		Timestamp:       e.Timestamp,
		SchemaVersion:   e.SchemaVersion,
	})
}

// UnmarshalJSON decodes content into the payload type named by interactionType.
func (e *InteractionEvent) UnmarshalJSON(data []byte) error {
	var w interactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.EventType != "" && w.EventType != EventTypeUserInteraction {
		return fmt.Errorf("unexpected eventType %q", w.EventType)
	}
	*e = InteractionEvent{
		EventID:        w.EventID,
		TenantID:       w.TenantID,
		UserID:         w.UserID,
		SessionID:      w.SessionID,
		GraphID:        w.GraphID,
		CurrentTopic:   w.CurrentTopic,
		UserIntent:     w.UserIntent,
		PreviousAction: w.PreviousAction,
		TimeOnPage:     w.TimeOnPage,
		Metadata:       w.Metadata,
		Timestamp:      w.Timestamp,
		SchemaVersion:  w.SchemaVersion,
	}
	return e.SetContent(w.InteractionType, w.Content)
}

// Content returns the payload in its flattened wire form.
func (e InteractionEvent) Content() (string, error) {
	if e.Payload == nil {
		return "", ErrMissingPayload
	}
	return encodeContent(e.Payload)
}

// SetContent decodes a flattened content string of type t into the
// payload. CurrentTopic must already be set for concept explorations.
func (e *InteractionEvent) SetContent(t InteractionType, content string) error {
	p, err := decodeContent(t, content, e)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}

// navigationSeparator joins the from/to pages of a navigation event.
const navigationSeparator = " -> "

// encodeContent renders a payload into the content string: text payloads
// as plain text, structured payloads as a JSON document.
func encodeContent(p Payload) (string, error) {
	switch v := p.(type) {
	case ChatMessage:
		return v.Text, nil
	case QuestionAsked:
		return v.Question, nil
	case ConceptExploration:
		return v.ConceptName, nil
	case Navigation:
		if v.Raw != "" || (v.From == "" && v.To == "") {
			return v.Raw, nil
		}
		return v.From + navigationSeparator + v.To, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeContent is the inverse of encodeContent. Text payloads recover
// auxiliary fields from the surrounding event (concept id from
// currentTopic).
func decodeContent(t InteractionType, content string, e *InteractionEvent) (Payload, error) {
	switch t {
	case InteractionChatMessage:
		return ChatMessage{Text: content}, nil
	case InteractionQuestionAsked:
		return QuestionAsked{Question: content}, nil
	case InteractionConceptExploration:
		return ConceptExploration{ConceptID: e.CurrentTopic, ConceptName: content}, nil
	case InteractionNavigation:
		from, to, ok := strings.Cut(content, navigationSeparator)
		if !ok {
			return Navigation{Raw: content}, nil
		}
		return Navigation{From: from, To: to}, nil
	case InteractionLessonProgress:
		var p LessonProgress
		if err := decodeStructured(content, &p); err != nil {
			return nil, err
		}
		return p, nil
	case InteractionQuizAttempt:
		var p QuizAttempt
		if err := decodeStructured(content, &p); err != nil {
			return nil, err
		}
		return p, nil
	case InteractionFeedbackGiven:
		var p Feedback
		if err := decodeStructured(content, &p); err != nil {
			return nil, err
		}
		return p, nil
	case InteractionExerciseSubmission:
		var p ExerciseSubmission
		if err := decodeStructured(content, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInteractionType, t)
}

// decodeStructured parses a JSON content string. Free text that is not
// JSON is rejected so mistyped events surface at ingestion.
func decodeStructured(content string, v any) error {
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("invalid structured content: %w", err)
	}
	return nil
}
