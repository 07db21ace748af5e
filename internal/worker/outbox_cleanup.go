package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-ops/pkg/logger"
)

type processedEventPurger interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int, error)
}

// OutboxCleanupWorker periodically drops relayed outbox events.
type OutboxCleanupWorker struct {
	repo            processedEventPurger
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
	nowFn           func() time.Time
}

func NewOutboxCleanupWorker(repo processedEventPurger, retention, cleanupInterval time.Duration, log *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:            repo,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		logger:          log,
		nowFn:           time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "Error cleaning up outbox events")
			}
		}
	}
}

func (w *OutboxCleanupWorker) cleanup(ctx context.Context) error {
	cutoff := w.nowFn().Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup outbox events: %w", err)
	}

	if rows > 0 {
		w.logger.Info("Cleaned up processed outbox events", "count", rows, "cutoff", cutoff)
	}
	return nil
}
