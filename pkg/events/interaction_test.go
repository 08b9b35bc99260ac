package events

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestInteractionEvent_Prepare(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	t.Run("fills missing fields", func(t *testing.T) {
		e := InteractionEvent{Payload: ChatMessage{Text: "hi"}}.Prepare("acme", "u1", now)

		assert.NotEmpty(t, e.EventID)
		assert.Equal(t, now.UTC(), e.Timestamp)
		assert.Equal(t, SchemaVersion, e.SchemaVersion)
		assert.Equal(t, "acme", e.TenantID)
		assert.Equal(t, "u1", e.UserID)
	})

	t.Run("caller values win", func(t *testing.T) {
		ts := now.Add(-time.Hour)
		e := InteractionEvent{
			EventID:   "fixed",
			TenantID:  "other",
			UserID:    "u9",
			Timestamp: ts,
			Payload:   ChatMessage{Text: "hi"},
		}.Prepare("acme", "u1", now)

		assert.Equal(t, "fixed", e.EventID)
		assert.Equal(t, "other", e.TenantID)
		assert.Equal(t, "u9", e.UserID)
		assert.Equal(t, ts, e.Timestamp)
	})

	t.Run("tenant defaults when nothing bound", func(t *testing.T) {
		e := InteractionEvent{Payload: ChatMessage{}}.Prepare("", "", now)
		assert.Equal(t, DefaultTenantID, e.TenantID)
		assert.Empty(t, e.UserID)
	})

	t.Run("event ids are unique", func(t *testing.T) {
		a := InteractionEvent{Payload: ChatMessage{}}.Prepare("", "", now)
		b := InteractionEvent{Payload: ChatMessage{}}.Prepare("", "", now)
		assert.NotEqual(t, a.EventID, b.EventID)
	})
}

func TestInteractionEvent_BindIdentity(t *testing.T) {
	e := InteractionEvent{
		EventID:  "e1",
		TenantID: "victim",
		UserID:   "someone-else",
		Payload:  ChatMessage{Text: "hi"},
	}

	bound := e.BindIdentity("acme", "u1")
	assert.Equal(t, "acme", bound.TenantID)
	assert.Equal(t, "u1", bound.UserID)
	assert.Equal(t, "victim", e.TenantID, "receiver is not modified")

	assert.Equal(t, DefaultTenantID, e.BindIdentity("", "u1").TenantID)
}

func TestInteractionEvent_Validate(t *testing.T) {
	valid := InteractionEvent{EventID: "e", TenantID: "t", Payload: ChatMessage{Text: "x"}}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.EventID = ""
	assert.Error(t, noID.Validate())

	noTenant := valid
	noTenant.TenantID = ""
	assert.Error(t, noTenant.Validate())

	noPayload := valid
	noPayload.Payload = nil
	assert.ErrorIs(t, noPayload.Validate(), ErrMissingPayload)
}

func TestInteractionEvent_WireFormat(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	score := 0.8

	tests := []struct {
		name        string
		event       InteractionEvent
		wantType    InteractionType
		wantContent string
	}{
		{
			name:        "chat message is plain text",
			event:       InteractionEvent{Payload: ChatMessage{Text: "What is a graph?"}},
			wantType:    InteractionChatMessage,
			wantContent: "What is a graph?",
		},
		{
			name:        "question is plain text",
			event:       InteractionEvent{Payload: QuestionAsked{Question: "Why?"}},
			wantType:    InteractionQuestionAsked,
			wantContent: "Why?",
		},
		{
			name:        "concept exploration carries the name",
			event:       InteractionEvent{CurrentTopic: "c-42", Payload: ConceptExploration{ConceptID: "c-42", ConceptName: "Recursion"}},
			wantType:    InteractionConceptExploration,
			wantContent: "Recursion",
		},
		{
			name:        "navigation joins pages",
			event:       InteractionEvent{PreviousAction: "/home", Payload: Navigation{From: "/home", To: "/lessons"}},
			wantType:    InteractionNavigation,
			wantContent: "/home -> /lessons",
		},
		{
			name:        "navigation without separator is kept verbatim",
			event:       InteractionEvent{Payload: Navigation{Raw: "/dashboard"}},
			wantType:    InteractionNavigation,
			wantContent: "/dashboard",
		},
		{
			name: "lesson progress is JSON",
			event: InteractionEvent{Payload: LessonProgress{
				LessonID: "l1", BlockIndex: 2, BlockType: "quiz", Action: LessonActionCompleted,
				TimeSpent: 30, Score: &score,
			}},
			wantType:    InteractionLessonProgress,
			wantContent: `{"lessonId":"l1","blockIndex":2,"blockType":"quiz","action":"completed","timeSpent":30,"score":0.8}`,
		},
		{
			name: "quiz attempt is JSON",
			event: InteractionEvent{Payload: QuizAttempt{
				LessonID: "l1", QuestionIndex: 1, IsCorrect: true, SelectedOption: 3, TimeSpent: 12,
			}},
			wantType:    InteractionQuizAttempt,
			wantContent: `{"lessonId":"l1","questionIndex":1,"isCorrect":true,"selectedOption":3,"timeSpent":12}`,
		},
		{
			name: "feedback is JSON",
			event: InteractionEvent{Payload: Feedback{
				FeedbackType: FeedbackExplicitPositive, TargetID: "msg-1", Rating: intPtr(5),
			}},
			wantType:    InteractionFeedbackGiven,
			wantContent: `{"feedbackType":"explicit_positive","targetId":"msg-1","rating":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.event
			e.EventID = "evt-1"
			e.TenantID = "acme"
			e.Timestamp = ts
			e.SchemaVersion = SchemaVersion

			raw, err := json.Marshal(e)
			require.NoError(t, err)

			var wire map[string]any
			require.NoError(t, json.Unmarshal(raw, &wire))
			assert.Equal(t, "evt-1", wire["eventId"])
			assert.Equal(t, EventTypeUserInteraction, wire["eventType"])
			assert.Equal(t, string(SourceUser), wire["source"])
			assert.Equal(t, string(tt.wantType), wire["interactionType"])
			assert.Equal(t, tt.wantContent, wire["content"])
			assert.Equal(t, "acme", wire["tenantId"])
			assert.Equal(t, SchemaVersion, wire["schemaVersion"])

			var back InteractionEvent
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, e.Payload, back.Payload)
			assert.Equal(t, tt.wantType, back.Type())
			assert.True(t, back.Timestamp.Equal(ts))
		})
	}
}

func TestInteractionEvent_NavigationContentRoundTrip(t *testing.T) {
	for _, content := range []string{"/dashboard", "/a -> /b", "/a ->", ""} {
		t.Run(content, func(t *testing.T) {
			in := `{"eventId":"e","tenantId":"t","interactionType":"navigation","content":` + strconv.Quote(content) + `}`

			var e InteractionEvent
			require.NoError(t, json.Unmarshal([]byte(in), &e))
			raw, err := json.Marshal(e)
			require.NoError(t, err)

			var wire map[string]any
			require.NoError(t, json.Unmarshal(raw, &wire))
			assert.Equal(t, content, wire["content"])
		})
	}
}

func TestInteractionEvent_OptionalFields(t *testing.T) {
	e := InteractionEvent{
		EventID:    "e",
		TenantID:   "t",
		UserID:     "u",
		SessionID:  "s",
		GraphID:    "g",
		UserIntent: "learn",
		TimeOnPage: intPtr(42),
		Metadata:   map[string]any{"page": "/x"},
		Payload:    ChatMessage{Text: "hi"},
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var back InteractionEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "u", back.UserID)
	assert.Equal(t, "s", back.SessionID)
	assert.Equal(t, "g", back.GraphID)
	assert.Equal(t, "learn", back.UserIntent)
	require.NotNil(t, back.TimeOnPage)
	assert.Equal(t, 42, *back.TimeOnPage)
	assert.Equal(t, "/x", back.Metadata["page"])

	minimal, err := json.Marshal(InteractionEvent{EventID: "e", TenantID: "t", Payload: ChatMessage{}})
	require.NoError(t, err)
	assert.NotContains(t, string(minimal), "sessionId")
	assert.NotContains(t, string(minimal), "timeOnPage")
}

func TestInteractionEvent_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown interaction type", raw: `{"eventId":"e","interactionType":"dance","content":"x"}`},
		{name: "structured content is not JSON", raw: `{"eventId":"e","interactionType":"quiz_attempt","content":"oops"}`},
		{name: "wrong event type", raw: `{"eventId":"e","eventType":"ai_response","interactionType":"chat_message","content":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e InteractionEvent
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &e))
		})
	}

	_, err := json.Marshal(InteractionEvent{EventID: "e"})
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestInteractionType_Valid(t *testing.T) {
	for _, typ := range []InteractionType{
		InteractionChatMessage, InteractionLessonProgress, InteractionConceptExploration,
		InteractionQuestionAsked, InteractionFeedbackGiven, InteractionNavigation,
		InteractionQuizAttempt, InteractionExerciseSubmission,
	} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, InteractionType("page_view").Valid())
}
