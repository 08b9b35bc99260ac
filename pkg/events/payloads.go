package events

import "time"

// Payload is the typed body of an InteractionEvent. Each implementation
// maps to exactly one InteractionType.
type Payload interface {
	InteractionType() InteractionType
}

// ChatMessage is a message the user sent in a chat session.
type ChatMessage struct {
	Text string `json:"text"`
}

func (ChatMessage) InteractionType() InteractionType { return InteractionChatMessage }

// QuestionAsked is a free-form question outside of chat.
type QuestionAsked struct {
	Question string `json:"question"`
}

func (QuestionAsked) InteractionType() InteractionType { return InteractionQuestionAsked }

// ConceptExploration records the user opening a knowledge-graph concept.
// ConceptID travels in the event's currentTopic field.
type ConceptExploration struct {
	ConceptID   string `json:"conceptId"`
	ConceptName string `json:"conceptName"`
}

func (ConceptExploration) InteractionType() InteractionType { return InteractionConceptExploration }

// Navigation records a page transition.
type Navigation struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Raw holds content that is not in "from -> to" form. It is sent back
	// unchanged.
	Raw string `json:"raw,omitempty"`
}

func (Navigation) InteractionType() InteractionType { return InteractionNavigation }

// LessonAction is what happened to a lesson block.
type LessonAction string

const (
	LessonActionStarted   LessonAction = "started"
	LessonActionCompleted LessonAction = "completed"
	LessonActionSkipped   LessonAction = "skipped"
	LessonActionRevisited LessonAction = "revisited"
)

// LessonProgress records progress through one lesson block.
type LessonProgress struct {
	LessonID   string       `json:"lessonId"`
	BlockIndex int          `json:"blockIndex"`
	BlockType  string       `json:"blockType"`
	Action     LessonAction `json:"action"`
	TimeSpent  int          `json:"timeSpent"` // seconds
	Score      *float64     `json:"score,omitempty"`
	Attempts   *int         `json:"attempts,omitempty"`
}

func (LessonProgress) InteractionType() InteractionType { return InteractionLessonProgress }

// QuizAttempt records one answer to a quiz question.
type QuizAttempt struct {
	LessonID       string `json:"lessonId"`
	QuestionIndex  int    `json:"questionIndex"`
	IsCorrect      bool   `json:"isCorrect"`
	SelectedOption int    `json:"selectedOption"`
	TimeSpent      int    `json:"timeSpent"` // seconds
}

func (QuizAttempt) InteractionType() InteractionType { return InteractionQuizAttempt }

// FeedbackType classifies user feedback.
type FeedbackType string

const (
	FeedbackExplicitPositive FeedbackType = "explicit_positive"
	FeedbackExplicitNegative FeedbackType = "explicit_negative"
	FeedbackImplicitPositive FeedbackType = "implicit_positive"
	FeedbackImplicitNegative FeedbackType = "implicit_negative"
)

// Feedback records feedback on an AI response or concept.
type Feedback struct {
	FeedbackType FeedbackType `json:"feedbackType"`
	TargetID     string       `json:"targetId"`
	FeedbackText string       `json:"feedbackText,omitempty"`
	Rating       *int         `json:"rating,omitempty"` // 1-5
	ActionTaken  string       `json:"actionTaken,omitempty"`
}

func (Feedback) InteractionType() InteractionType { return InteractionFeedbackGiven }

// ExerciseSubmission records a submitted exercise answer.
type ExerciseSubmission struct {
	LessonID   string `json:"lessonId"`
	ExerciseID string `json:"exerciseId"`
	Submission string `json:"submission"`
	TimeSpent  int    `json:"timeSpent"` // seconds
}

func (ExerciseSubmission) InteractionType() InteractionType { return InteractionExerciseSubmission }

// --- Push payloads ---

// Action is a call-to-action attached to a notification or suggestion.
type Action struct {
	Label  string `json:"label"`
	Href   string `json:"href,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// SuggestionType classifies a proactive suggestion.
type SuggestionType string

const (
	SuggestionTask     SuggestionType = "task"
	SuggestionConcept  SuggestionType = "concept"
	SuggestionExercise SuggestionType = "exercise"
	SuggestionReminder SuggestionType = "reminder"
	SuggestionTip      SuggestionType = "tip"
)

// SuggestionContext ties a suggestion to learning content.
type SuggestionContext struct {
	Topic     string `json:"topic,omitempty"`
	LessonID  string `json:"lessonId,omitempty"`
	ConceptID string `json:"conceptId,omitempty"`
}

// ProactiveSuggestion is the payload of proactive_suggestion push events.
type ProactiveSuggestion struct {
	ID          string             `json:"id"`
	Type        SuggestionType     `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Action      *Action            `json:"action,omitempty"`
	Priority    int                `json:"priority"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	Context     *SuggestionContext `json:"context,omitempty"`
}

// NotificationPayload is the payload of notification push events.
type NotificationPayload struct {
	Title   string  `json:"title,omitempty"`
	Message string  `json:"message,omitempty"`
	Action  *Action `json:"action,omitempty"`
}

// AchievementPayload is the payload of achievement push events.
type AchievementPayload struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Message     string  `json:"message,omitempty"`
	Action      *Action `json:"action,omitempty"`
}

// LessonUnlockedPayload is the payload of lesson_unlocked push events.
type LessonUnlockedPayload struct {
	LessonID string `json:"lessonId"`
	Title    string `json:"title,omitempty"`
}

// KnowledgeUpdatePayload is the payload of knowledge_update push events.
// Its shape is owned by the knowledge-graph backend.
type KnowledgeUpdatePayload map[string]any

// ErrorPayload is the body of a gateway error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectionEstablishedPayload is the body of the connection.established frame.
type ConnectionEstablishedPayload struct {
	ConnectionID string `json:"connection_id"`
}
