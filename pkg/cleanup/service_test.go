package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latzu/latzu-edge/pkg/config"
	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/services"
	"github.com/latzu/latzu-edge/test/util"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPruner) DeleteReceivedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 0, p.err
}

func (p *recordingPruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func newInteraction(userID string) events.InteractionEvent {
	return events.InteractionEvent{
		EventID:   uuid.New().String(),
		TenantID:  "acme",
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   events.QuestionAsked{Question: "why?"},
	}
}

func TestService_PruneCutoff(t *testing.T) {
	pruner := &recordingPruner{}
	cfg := &config.RetentionConfig{InteractionRetentionDays: 30, CleanupInterval: time.Hour}
	svc := NewService(cfg, pruner)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	svc.pruneInteractions(context.Background())

	require.Len(t, pruner.calls(), 1)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), pruner.calls()[0])
}

func TestService_PruneErrorIsNotFatal(t *testing.T) {
	pruner := &recordingPruner{err: errors.New("connection refused")}
	cfg := &config.RetentionConfig{InteractionRetentionDays: 1, CleanupInterval: time.Hour}
	svc := NewService(cfg, pruner)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return len(pruner.calls()) == 1 }, time.Second, 10*time.Millisecond)
	svc.Stop()
}

func TestService_StartStop(t *testing.T) {
	pruner := &recordingPruner{}
	svc := NewService(config.DefaultRetentionConfig(), pruner)

	svc.Start(context.Background())
	svc.Start(context.Background()) // second Start is a no-op
	require.Eventually(t, func() bool { return len(pruner.calls()) >= 1 }, time.Second, 10*time.Millisecond)

	svc.Stop()
	svc.Stop()
	assert.Len(t, pruner.calls(), 1, "interval is an hour; only the startup pass runs")
}

func TestService_DeletesOldInteractions(t *testing.T) {
	client := util.NewTestClient(t)
	svc := services.NewInteractionService(client.DB())
	ctx := context.Background()

	old := newInteraction("u1")
	recent := newInteraction("u1")
	for _, e := range []events.InteractionEvent{old, recent} {
		_, err := svc.Ingest(ctx, e)
		require.NoError(t, err)
	}
	_, err := client.DB().ExecContext(ctx,
		`UPDATE interaction_events SET received_at = now() - interval '400 days' WHERE event_id = $1`, old.EventID)
	require.NoError(t, err)

	cleanup := NewService(&config.RetentionConfig{InteractionRetentionDays: 365, CleanupInterval: time.Hour}, svc)
	cleanup.pruneInteractions(ctx)

	_, err = svc.Get(ctx, old.EventID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = svc.Get(ctx, recent.EventID)
	assert.NoError(t, err, "recent interaction should be preserved")
}

func TestService_MemoryStore(t *testing.T) {
	store := services.NewMemoryInteractionStore(0)
	ctx := context.Background()
	_, err := store.Ingest(ctx, newInteraction("u1"))
	require.NoError(t, err)

	cleanup := NewService(&config.RetentionConfig{InteractionRetentionDays: 1, CleanupInterval: time.Hour}, store)
	cleanup.pruneInteractions(ctx)
	assert.Equal(t, 1, store.Len())

	cleanup.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	cleanup.pruneInteractions(ctx)
	assert.Zero(t, store.Len())
}
