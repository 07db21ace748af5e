package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope relayed for every outbox event.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// ChangeNotice announces a committed write to a document collection.
type ChangeNotice struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
}

// ChangeChannel is the pub/sub channel carrying notices for collection.
func ChangeChannel(collection string) string {
	return "docstore:" + collection
}
