// Package event stages domain events in the outbox collection alongside the
// document writes that produce them.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
)

// Stage writes a pending outbox event inside tx. The event commits or rolls
// back with the rest of the transaction.
func Stage(tx repository.Transaction, eventType string, payload interface{}) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	evt := model.OutboxEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   payloadJSON,
		Status:    model.OutboxStatusPending,
		CreatedAt: tx.ServerTime(),
	}
	fields, err := repository.EncodeFields(evt)
	if err != nil {
		return "", err
	}
	if err := tx.Set(repository.CollectionOutbox, evt.ID, fields, repository.SetOptions{}); err != nil {
		return "", fmt.Errorf("failed to create outbox event: %w", err)
	}
	return evt.ID, nil
}

type EventService struct {
	store repository.DocumentStore
}

func NewEventService(store repository.DocumentStore) *EventService {
	return &EventService{store: store}
}

// Emit stages an event in its own transaction, for events that have no
// accompanying document write.
func (s *EventService) Emit(ctx context.Context, eventType string, payload interface{}) error {
	return s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		_, err := Stage(tx, eventType, payload)
		return err
	})
}
