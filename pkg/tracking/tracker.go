// Package tracking builds well-formed interaction events from UI actions
// and hands them to the realtime transport.
package tracking

import (
	"sync"
	"time"

	"github.com/latzu/latzu-edge/pkg/events"
)

// Emitter accepts interaction events for delivery. realtime.Client
// satisfies it.
type Emitter interface {
	EmitInteraction(event events.InteractionEvent)
}

// Options carries the optional context of a tracked interaction. Empty
// tenant and user fall back to the tracker defaults.
type Options struct {
	TenantID       string
	UserID         string
	SessionID      string
	GraphID        string
	CurrentTopic   string
	UserIntent     string
	PreviousAction string
	TimeOnPage     *int
	Metadata       map[string]any
}

// Tracker emits interaction events with default identity.
type Tracker struct {
	emitter  Emitter
	tenantID string
	userID   string

	mu       sync.Mutex
	lastPage string
	pageTime *TimeTracker
}

// New creates a tracker. Empty tenant and user are left for the emitter
// to fill from its bound identity.
func New(emitter Emitter, tenantID, userID string) *Tracker {
	return &Tracker{
		emitter:  emitter,
		tenantID: tenantID,
		userID:   userID,
	}
}

// TrackInteraction emits payload with the given options.
func (t *Tracker) TrackInteraction(payload events.Payload, opts Options) {
	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = t.tenantID
	}
	userID := opts.UserID
	if userID == "" {
		userID = t.userID
	}
	t.emitter.EmitInteraction(events.InteractionEvent{
		TenantID:       tenantID,
		UserID:         userID,
		SessionID:      opts.SessionID,
		GraphID:        opts.GraphID,
		CurrentTopic:   opts.CurrentTopic,
		UserIntent:     opts.UserIntent,
		PreviousAction: opts.PreviousAction,
		TimeOnPage:     opts.TimeOnPage,
		Metadata:       opts.Metadata,
		Payload:        payload,
	})
}

// TrackChatMessage records a message the user sent in a chat session.
func (t *Tracker) TrackChatMessage(text, sessionID string, opts Options) {
	opts.SessionID = sessionID
	t.TrackInteraction(events.ChatMessage{Text: text}, opts)
}

// TrackLessonProgress records a lesson block transition.
func (t *Tracker) TrackLessonProgress(p events.LessonProgress, opts Options) {
	t.TrackInteraction(p, opts)
}

// TrackConceptExploration records a visit to a concept; the concept id
// travels as the current topic.
func (t *Tracker) TrackConceptExploration(conceptID, conceptName string, opts Options) {
	opts.CurrentTopic = conceptID
	t.TrackInteraction(events.ConceptExploration{ConceptID: conceptID, ConceptName: conceptName}, opts)
}

func (t *Tracker) TrackQuestion(question string, opts Options) {
	t.TrackInteraction(events.QuestionAsked{Question: question}, opts)
}

func (t *Tracker) TrackQuizAttempt(q events.QuizAttempt, opts Options) {
	t.TrackInteraction(q, opts)
}

func (t *Tracker) TrackFeedback(f events.Feedback, opts Options) {
	t.TrackInteraction(f, opts)
}

// TrackNavigation records a page change. The page left becomes the
// previous action.
func (t *Tracker) TrackNavigation(from, to string, opts Options) {
	opts.PreviousAction = from
	t.TrackInteraction(events.Navigation{From: from, To: to}, opts)
}

func (t *Tracker) TrackExerciseSubmission(s events.ExerciseSubmission, opts Options) {
	t.TrackInteraction(s, opts)
}

// TrackPageView records arrival on path as a navigation from the page seen
// last. Time spent on the previous page is attached when known.
func (t *Tracker) TrackPageView(path string, opts Options) {
	t.mu.Lock()
	from := t.lastPage
	if t.pageTime != nil && opts.TimeOnPage == nil {
		secs := t.pageTime.ElapsedSeconds()
		opts.TimeOnPage = &secs
	}
	t.lastPage = path
	if t.pageTime == nil {
		t.pageTime = NewTimeTracker()
	} else {
		t.pageTime.Reset()
	}
	t.mu.Unlock()

	t.TrackNavigation(from, path, opts)
}

// WithTracking wraps fn so that every call first emits the payload built
// from its argument.
func WithTracking[A, R any](t *Tracker, fn func(A) R, payload func(A) events.Payload, opts Options) func(A) R {
	return func(arg A) R {
		t.TrackInteraction(payload(arg), opts)
		return fn(arg)
	}
}

// DefaultDebounceDelay is the quiet period of a Debouncer.
const DefaultDebounceDelay = time.Second

// Debouncer collapses bursts of high-frequency interactions into one
// trailing event carrying the last payload seen.
type Debouncer struct {
	tracker *Tracker
	delay   time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumped whenever the armed timer is superseded
	payload events.Payload
	opts    Options
}

// Debounced returns a Debouncer over t. A non-positive delay selects
// DefaultDebounceDelay.
func (t *Tracker) Debounced(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{tracker: t, delay: delay}
}

// Track records payload and restarts the quiet period.
func (d *Debouncer) Track(payload events.Payload, opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payload = payload
	d.opts = opts
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush emits the pending payload now, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()
	d.fire(gen)
}

// Stop drops the pending payload.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.payload = nil
}

// fire emits the pending payload unless gen is stale. Timer.Stop does not
// cancel a callback that already started.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	payload, opts := d.payload, d.opts
	d.payload = nil
	d.timer = nil
	d.mu.Unlock()

	if payload != nil {
		d.tracker.TrackInteraction(payload, opts)
	}
}

// TimeTracker measures active time with pause and resume.
type TimeTracker struct {
	mu       sync.Mutex
	start    time.Time
	pausedAt time.Time
	paused   bool
	now      func() time.Time
}

// NewTimeTracker starts measuring now.
func NewTimeTracker() *TimeTracker {
	tt := &TimeTracker{now: time.Now}
	tt.start = tt.now()
	return tt
}

func (tt *TimeTracker) Pause() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if !tt.paused {
		tt.pausedAt = tt.now()
		tt.paused = true
	}
}

// Resume continues measuring; the paused interval is not counted.
func (tt *TimeTracker) Resume() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.paused {
		tt.start = tt.start.Add(tt.now().Sub(tt.pausedAt))
		tt.paused = false
	}
}

// ElapsedSeconds returns whole seconds of active time.
func (tt *TimeTracker) ElapsedSeconds() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	end := tt.now()
	if tt.paused {
		end = tt.pausedAt
	}
	return int(end.Sub(tt.start) / time.Second)
}

func (tt *TimeTracker) Reset() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.start = tt.now()
	tt.pausedAt = time.Time{}
	tt.paused = false
}
