package store

import (
	"sync"
	"time"

	"github.com/latzu/latzu-edge/pkg/events"
)

// DefaultSuggestionLimit caps the proactive suggestion list.
const DefaultSuggestionLimit = 5

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
)

// ChatMessage is one turn of a conversation. Content and IsStreaming
// change while an assistant reply streams in.
type ChatMessage struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Suggestions []string  `json:"suggestions,omitempty"`
	IsStreaming bool      `json:"isStreaming"`
}

// ChatSession is a backend-assigned conversation. SessionID is opaque.
type ChatSession struct {
	SessionID     string    `json:"sessionId"`
	TenantID      string    `json:"tenantId"`
	UserID        string    `json:"userId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	MessageCount  int       `json:"messageCount"`
	HasActiveFlow bool      `json:"hasActiveFlow"`
}

// ChatStore holds the current conversation, the known sessions and the
// proactive suggestion list.
type ChatStore struct {
	mu sync.RWMutex

	session     *ChatSession
	sessions    []ChatSession
	messages    []ChatMessage
	streaming   bool
	err         string
	suggestions []events.ProactiveSuggestion

	suggestionLimit int
}

// NewChatStore creates an empty chat store. A non-positive limit selects
// DefaultSuggestionLimit.
func NewChatStore(suggestionLimit int) *ChatStore {
	if suggestionLimit <= 0 {
		suggestionLimit = DefaultSuggestionLimit
	}
	return &ChatStore{suggestionLimit: suggestionLimit}
}

// Session returns the current session, if any.
func (s *ChatStore) Session() (ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ChatSession{}, false
	}
	return *s.session, true
}

// SetSession makes session current and records it in the session list.
func (s *ChatStore) SetSession(session ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &session
	s.upsertSessionLocked(session)
}

// ClearSession forgets the current session and its messages.
func (s *ChatStore) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.messages = nil
	s.err = ""
}

// AddSession records a session without making it current.
func (s *ChatStore) AddSession(session ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertSessionLocked(session)
}

func (s *ChatStore) upsertSessionLocked(session ChatSession) {
	for i := range s.sessions {
		if s.sessions[i].SessionID == session.SessionID {
			s.sessions[i] = session
			return
		}
	}
	s.sessions = append([]ChatSession{session}, s.sessions...)
}

// RemoveSession drops a session; if it was current, its messages go too.
func (s *ChatStore) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == sessionID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	if s.session != nil && s.session.SessionID == sessionID {
		s.session = nil
		s.messages = nil
	}
}

// Sessions returns the known sessions, most recently added first.
func (s *ChatStore) Sessions() []ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatSession(nil), s.sessions...)
}

// AddMessage appends a message to the current conversation.
func (s *ChatStore) AddMessage(m ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	if s.session != nil {
		s.session.MessageCount++
		s.session.UpdatedAt = m.Timestamp
	}
}

// UpdateMessage applies fn to the message with the given id. It reports
// whether the message exists.
func (s *ChatStore) UpdateMessage(id string, fn func(*ChatMessage)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			return true
		}
	}
	return false
}

// Message returns the message with the given id.
func (s *ChatStore) Message(id string) (ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return cloneMessage(m), true
		}
	}
	return ChatMessage{}, false
}

// Messages returns the conversation in order.
func (s *ChatStore) Messages() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = cloneMessage(m)
	}
	return out
}

// SetMessages replaces the conversation, e.g. after loading history.
func (s *ChatStore) SetMessages(messages []ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]ChatMessage(nil), messages...)
}

// ClearMessages empties the conversation.
func (s *ChatStore) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// SetStreaming records whether an assistant reply is in flight.
func (s *ChatStore) SetStreaming(streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = streaming
}

// IsStreaming reports whether an assistant reply is in flight.
func (s *ChatStore) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// SetError fills the UI error slot; an empty string clears it.
func (s *ChatStore) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

// Error returns the UI error slot.
func (s *ChatStore) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SetSuggestions replaces the proactive suggestion list.
func (s *ChatStore) SetSuggestions(list []events.ProactiveSuggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(list) > s.suggestionLimit {
		list = list[:s.suggestionLimit]
	}
	s.suggestions = append([]events.ProactiveSuggestion(nil), list...)
}

// MergeSuggestion puts sg at the head of the list and keeps at most the
// configured number of entries.
func (s *ChatStore) MergeSuggestion(sg events.ProactiveSuggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]events.ProactiveSuggestion, 0, s.suggestionLimit)
	list = append(list, sg)
	for _, existing := range s.suggestions {
		if len(list) == s.suggestionLimit {
			break
		}
		list = append(list, existing)
	}
	s.suggestions = list
}

// DismissSuggestion removes a suggestion by id.
func (s *ChatStore) DismissSuggestion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.suggestions {
		if s.suggestions[i].ID == id {
			s.suggestions = append(s.suggestions[:i], s.suggestions[i+1:]...)
			return
		}
	}
}

// Suggestions returns the proactive suggestion list, newest first.
func (s *ChatStore) Suggestions() []events.ProactiveSuggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.ProactiveSuggestion(nil), s.suggestions...)
}

// Reset drops all chat state.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.sessions = nil
	s.messages = nil
	s.streaming = false
	s.err = ""
	s.suggestions = nil
}

func cloneMessage(m ChatMessage) ChatMessage {
	if m.Suggestions != nil {
		m.Suggestions = append([]string(nil), m.Suggestions...)
	}
	return m
}
