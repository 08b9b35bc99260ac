package tracking

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/realtime"
	"github.com/latzu/latzu-edge/pkg/store"
)

var _ Emitter = (*realtime.Client)(nil)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.InteractionEvent
}

func (r *recordingEmitter) EmitInteraction(e events.InteractionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) all() []events.InteractionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.InteractionEvent(nil), r.events...)
}

func TestTracker_Helpers(t *testing.T) {
	score := 0.8
	tests := []struct {
		name  string
		track func(*Tracker)
		check func(*testing.T, events.InteractionEvent)
	}{
		{
			name:  "chat message",
			track: func(tr *Tracker) { tr.TrackChatMessage("hi", "s1", Options{}) },
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionChatMessage, e.Type())
				assert.Equal(t, "s1", e.SessionID)
				assert.Equal(t, events.ChatMessage{Text: "hi"}, e.Payload)
			},
		},
		{
			name:  "concept exploration uses concept id as topic",
			track: func(tr *Tracker) { tr.TrackConceptExploration("c-42", "Graphs", Options{}) },
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionConceptExploration, e.Type())
				assert.Equal(t, "c-42", e.CurrentTopic)
			},
		},
		{
			name:  "navigation records previous page",
			track: func(tr *Tracker) { tr.TrackNavigation("/a", "/b", Options{}) },
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, "/a", e.PreviousAction)
				assert.Equal(t, events.Navigation{From: "/a", To: "/b"}, e.Payload)
			},
		},
		{
			name:  "question",
			track: func(tr *Tracker) { tr.TrackQuestion("why?", Options{SessionID: "s2"}) },
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionQuestionAsked, e.Type())
				assert.Equal(t, "s2", e.SessionID)
			},
		},
		{
			name: "lesson progress",
			track: func(tr *Tracker) {
				tr.TrackLessonProgress(events.LessonProgress{
					LessonID: "l1", BlockIndex: 2, BlockType: "quiz",
					Action: events.LessonActionCompleted, TimeSpent: 30, Score: &score,
				}, Options{})
			},
			check: func(t *testing.T, e events.InteractionEvent) {
				p, ok := e.Payload.(events.LessonProgress)
				require.True(t, ok)
				assert.Equal(t, events.LessonActionCompleted, p.Action)
				assert.Equal(t, &score, p.Score)
			},
		},
		{
			name: "quiz attempt",
			track: func(tr *Tracker) {
				tr.TrackQuizAttempt(events.QuizAttempt{LessonID: "l1", IsCorrect: true}, Options{})
			},
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionQuizAttempt, e.Type())
			},
		},
		{
			name: "feedback",
			track: func(tr *Tracker) {
				tr.TrackFeedback(events.Feedback{FeedbackType: events.FeedbackExplicitPositive, TargetID: "m1"}, Options{})
			},
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionFeedbackGiven, e.Type())
			},
		},
		{
			name: "exercise submission",
			track: func(tr *Tracker) {
				tr.TrackExerciseSubmission(events.ExerciseSubmission{LessonID: "l1", ExerciseID: "x1"}, Options{})
			},
			check: func(t *testing.T, e events.InteractionEvent) {
				assert.Equal(t, events.InteractionExerciseSubmission, e.Type())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &recordingEmitter{}
			tt.track(New(em, "acme", "u1"))

			got := em.all()
			require.Len(t, got, 1)
			assert.Equal(t, "acme", got[0].TenantID)
			assert.Equal(t, "u1", got[0].UserID)
			require.NoError(t, got[0].Prepare("", "", time.Now()).Validate())
			tt.check(t, got[0])
		})
	}
}

func TestTracker_OptionsOverrideDefaults(t *testing.T) {
	em := &recordingEmitter{}
	tr := New(em, "acme", "u1")

	tr.TrackQuestion("q", Options{TenantID: "other", UserID: "u2", Metadata: map[string]any{"k": "v"}})

	got := em.all()
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].TenantID)
	assert.Equal(t, "u2", got[0].UserID)
	assert.Equal(t, "v", got[0].Metadata["k"])
}

func TestTracker_QueuesThroughDisconnectedClient(t *testing.T) {
	es := store.NewEventStore(0)
	client := realtime.NewClient(realtime.DefaultConfig("ws://127.0.0.1:1/ws"), es, nil)
	tr := New(client, "", "")

	tr.TrackChatMessage("offline", "s1", Options{})

	pending := es.PendingEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, events.DefaultTenantID, pending[0].Event.TenantID)
	assert.NotEmpty(t, pending[0].Event.EventID)
}

func TestTracker_TrackPageView(t *testing.T) {
	em := &recordingEmitter{}
	tr := New(em, "acme", "u1")

	tr.TrackPageView("/dashboard", Options{})
	tr.TrackPageView("/chat", Options{})

	got := em.all()
	require.Len(t, got, 2)
	assert.Equal(t, events.Navigation{From: "", To: "/dashboard"}, got[0].Payload)
	assert.Nil(t, got[0].TimeOnPage)

	assert.Equal(t, events.Navigation{From: "/dashboard", To: "/chat"}, got[1].Payload)
	require.NotNil(t, got[1].TimeOnPage)
	assert.GreaterOrEqual(t, *got[1].TimeOnPage, 0)
}

func TestWithTracking(t *testing.T) {
	em := &recordingEmitter{}
	tr := New(em, "acme", "u1")

	double := WithTracking(tr, func(n int) int { return n * 2 },
		func(n int) events.Payload { return events.QuestionAsked{Question: strconv.Itoa(n)} },
		Options{SessionID: "s1"})

	assert.Equal(t, 8, double(4))

	got := em.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.QuestionAsked{Question: "4"}, got[0].Payload)
	assert.Equal(t, "s1", got[0].SessionID)
}

func TestDebouncer_TrailingEdge(t *testing.T) {
	em := &recordingEmitter{}
	d := New(em, "acme", "u1").Debounced(30 * time.Millisecond)

	for _, q := range []string{"a", "ab", "abc"} {
		d.Track(events.QuestionAsked{Question: q}, Options{})
	}

	require.Eventually(t, func() bool { return len(em.all()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	got := em.all()
	require.Len(t, got, 1, "burst collapses to one event")
	assert.Equal(t, events.QuestionAsked{Question: "abc"}, got[0].Payload)
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	em := &recordingEmitter{}
	d := New(em, "acme", "u1").Debounced(time.Hour)

	d.Track(events.QuestionAsked{Question: "now"}, Options{})
	d.Flush()
	require.Len(t, em.all(), 1)

	d.Flush()
	assert.Len(t, em.all(), 1, "nothing pending")

	d.Track(events.QuestionAsked{Question: "dropped"}, Options{})
	d.Stop()
	d.Flush()
	assert.Len(t, em.all(), 1)
}

func TestDebouncer_StaleCallbackDoesNotFire(t *testing.T) {
	em := &recordingEmitter{}
	d := New(em, "acme", "u1").Debounced(time.Hour)

	d.Track(events.QuestionAsked{Question: "a"}, Options{})
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Track(events.QuestionAsked{Question: "ab"}, Options{})

	// A callback of the first timer that was already running when the
	// second Track stopped it.
	d.fire(stale)
	assert.Empty(t, em.all(), "newer payload must wait for its own quiet period")

	d.Flush()
	got := em.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.QuestionAsked{Question: "ab"}, got[0].Payload)
}

func TestDebounced_DefaultDelay(t *testing.T) {
	d := New(&recordingEmitter{}, "", "").Debounced(0)
	assert.Equal(t, DefaultDebounceDelay, d.delay)
}

func TestTimeTracker(t *testing.T) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tt := &TimeTracker{now: func() time.Time { return clock }}
	tt.Reset()

	clock = clock.Add(10 * time.Second)
	assert.Equal(t, 10, tt.ElapsedSeconds())

	tt.Pause()
	tt.Pause()
	clock = clock.Add(time.Minute)
	assert.Equal(t, 10, tt.ElapsedSeconds(), "paused time is not counted")

	tt.Resume()
	clock = clock.Add(5*time.Second + 900*time.Millisecond)
	assert.Equal(t, 15, tt.ElapsedSeconds(), "whole seconds only")

	tt.Reset()
	assert.Zero(t, tt.ElapsedSeconds())
}

func TestTracker_EventSerializes(t *testing.T) {
	em := &recordingEmitter{}
	New(em, "acme", "u1").TrackNavigation("/a", "/b", Options{})

	e := em.all()[0].Prepare("", "", time.Now())
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Equal(t, "navigation", wire["interactionType"])
	assert.Equal(t, "/a -> /b", wire["content"])
	assert.Equal(t, "/a", wire["previousAction"])
}
