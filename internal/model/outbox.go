package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types staged in the outbox.
const (
	EventSessionScheduled    = "session.scheduled"
	EventSessionStarted      = "session.started"
	EventSessionCompleted    = "session.completed"
	EventSessionCancelled    = "session.cancelled"
	EventSessionCheckpoint   = "session.checkpoint"
	EventAssignmentCreated   = "assignment.created"
	EventAssignmentClaimed   = "assignment.claimed"
	EventAssignmentReleased  = "assignment.released"
	EventAssignmentCompleted = "assignment.completed"
)

type OutboxEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
	Status       OutboxStatus    `json:"status"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	RetryCount   int             `json:"retryCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
}
