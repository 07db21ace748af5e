package repository

import (
	"context"

	"github.com/jwalitptl/clinic-ops/internal/model"
)

// OutboxRepository is the part of the outbox store pkg/worker needs.
type OutboxRepository interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id string, status model.OutboxStatus, errMsg *string) error
	CountPending(ctx context.Context) (int, error)
}
