package main

import (
	"context"
	"encoding/json"

	"github.com/jwalitptl/clinic-ops/config"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/worker"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/messaging"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
	pkgworker "github.com/jwalitptl/clinic-ops/pkg/worker"
)

// startLocalRelay drains the outbox inside the API process when the store
// lives in memory and no separate worker can reach it. Events go to an
// in-process broker and are logged at debug level.
func startLocalRelay(ctx context.Context, cfg *config.Config, store repository.DocumentStore, m *metrics.Metrics, appLogger *logger.Logger) (func(), error) {
	broker := messaging.NewLocalBroker()
	zl := appLogger.Zerolog()

	err := messaging.Consume(ctx, broker, cfg.Outbox.Channel, func(raw []byte) error {
		var msg messaging.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		zl.Debug().Str("event_id", msg.ID).Str("event_type", msg.Type).Msg("Domain event")
		return nil
	}, zl)
	if err != nil {
		_ = broker.Close()
		return nil, err
	}

	outboxRepo := repository.NewOutboxRepository(store)
	processor := pkgworker.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, m)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLogger)

	go processor.Start(ctx)
	go cleanup.Start(ctx)

	return func() { _ = broker.Close() }, nil
}
