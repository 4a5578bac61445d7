package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richardliu001/wallet-events/internal/model"
)

// Publisher sends one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Message is the JSON value published for an outbox row. The Kafka key is the
// aggregate id so one aggregate's events share a partition.
type Message struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Version       int             `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Encode returns the key and value for evt.
func Encode(evt *model.OutboxEvent) (key, value []byte, err error) {
	value, err = json.Marshal(Message{
		EventID:       evt.EventID,
		EventType:     evt.EventType,
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		Version:       evt.Version,
		Payload:       json.RawMessage(evt.Payload),
		OccurredAt:    evt.OccurredAt,
	})
	if err != nil {
		return nil, nil, err
	}
	return []byte(evt.AggregateID), value, nil
}
