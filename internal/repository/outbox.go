package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-ops/internal/model"
)

// OutboxRepository reads and settles staged outbox events.
type OutboxRepository struct {
	store DocumentStore
}

func NewOutboxRepository(store DocumentStore) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// GetPendingEvents returns up to limit pending events, oldest first.
func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	docs, err := r.store.Query(ctx, CollectionOutbox, Query{
		Filters: []Filter{Where("status", OpEqual, string(model.OutboxStatusPending))},
		OrderBy: &OrderBy{Field: "createdAt"},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events := make([]*model.OutboxEvent, 0, len(docs))
	for _, doc := range docs {
		var evt model.OutboxEvent
		if err := DecodeDocument(doc, &evt); err != nil {
			return nil, err
		}
		events = append(events, &evt)
	}
	return events, nil
}

// CountPending is the current outbox backlog.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	docs, err := r.store.Query(ctx, CollectionOutbox, Query{
		Filters: []Filter{Where("status", OpEqual, string(model.OutboxStatusPending))},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return len(docs), nil
}

// UpdateStatus settles an event. A failed event counts one more retry.
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id string, status model.OutboxStatus, errMsg *string) error {
	return r.store.RunTransaction(ctx, func(tx Transaction) error {
		doc, err := tx.Get(CollectionOutbox, id)
		if err != nil {
			return err
		}
		var evt model.OutboxEvent
		if err := DecodeDocument(*doc, &evt); err != nil {
			return err
		}

		fields := map[string]interface{}{
			"status":       string(status),
			"errorMessage": errMsg,
		}
		switch status {
		case model.OutboxStatusProcessed:
			fields["processedAt"] = tx.ServerTime()
		case model.OutboxStatusFailed:
			fields["retryCount"] = evt.RetryCount + 1
		}
		if err := tx.Update(CollectionOutbox, id, fields); err != nil {
			return fmt.Errorf("failed to update event status: %w", err)
		}
		return nil
	})
}

// DeleteProcessedBefore removes processed events older than before and
// reports how many were removed.
func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int, error) {
	docs, err := r.store.Query(ctx, CollectionOutbox, Query{
		Filters: []Filter{
			Where("status", OpEqual, string(model.OutboxStatusProcessed)),
			Where("processedAt", OpLess, before.UTC()),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list processed events: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ops := make([]WriteOp, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, WriteOp{Kind: WriteDelete, Collection: CollectionOutbox, ID: doc.ID})
	}
	if err := r.store.BatchWrite(ctx, ops); err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return len(ops), nil
}
