// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/latzu/latzu-edge/pkg/config"
)

// InteractionPruner deletes recorded interactions by receive time.
// Implemented by services.InteractionService and services.MemoryInteractionStore.
type InteractionPruner interface {
	DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces the interaction retention policy.
// Deletion is idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	pruner InteractionPruner
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, pruner InteractionPruner) *Service {
	return &Service{
		config: cfg,
		pruner: pruner,
		now:    time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"interaction_retention_days", s.config.InteractionRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pruneInteractions(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneInteractions(ctx)
		}
	}
}

func (s *Service) pruneInteractions(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.InteractionRetentionDays)
	count, err := s.pruner.DeleteReceivedBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Retention: interaction cleanup failed", "error", err)
		}
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old interactions", "count", count, "cutoff", cutoff)
	}
}
