package processor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/richardliu001/wallet-events/internal/broker"
	"github.com/richardliu001/wallet-events/internal/eventerr"
	"github.com/richardliu001/wallet-events/internal/events"
)

// Event is the inbound event as processors see it.
type Event struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	Version     int             `json:"version"`
	AggregateID string          `json:"aggregateId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Envelope is the in-flight unit handed to a processor: the event plus its
// delivery metadata. It is never persisted.
type Envelope struct {
	Event   Event  `json:"event"`
	Topic   string `json:"topic"`
	Attempt int    `json:"attempt"`
}

// Decode parses a broker message value received on topic. Undecodable values
// and values without an id or type are permanent failures.
func Decode(topic string, value []byte) (Envelope, error) {
	var msg broker.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return Envelope{}, eventerr.Permanent("malformed message", err)
	}
	if msg.EventID == "" || msg.EventType == "" {
		return Envelope{}, eventerr.Permanentf("message on %s is missing eventId or eventType", topic)
	}
	return Envelope{
		Event: Event{
			EventID:     msg.EventID,
			EventType:   msg.EventType,
			Version:     msg.Version,
			AggregateID: msg.AggregateID,
			Payload:     msg.Payload,
		},
		Topic:   topic,
		Attempt: 1,
	}, nil
}

// CheckVersion rejects any schema version not in supported.
func CheckVersion(env Envelope, supported ...int) error {
	for _, v := range supported {
		if env.Event.Version == v {
			return nil
		}
	}
	return eventerr.Permanentf("Unsupported event version: %d", env.Event.Version)
}

// CheckTopic rejects envelopes consumed from outside the processor's namespace.
func CheckTopic(env Envelope, prefix string) error {
	if !strings.HasPrefix(env.Topic, prefix) {
		return eventerr.Permanentf("Invalid topic %q: expected prefix %q", env.Topic, prefix)
	}
	return nil
}

// decodePayload strictly decodes raw into dst and validates it. Unknown
// fields, missing fields and type mismatches are permanent failures.
func decodePayload(raw json.RawMessage, dst events.Payload) error {
	if len(raw) == 0 || string(raw) == "null" {
		return eventerr.Permanentf("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return eventerr.Permanent("malformed payload", err)
	}
	if err := dst.Validate(); err != nil {
		return eventerr.Permanent("invalid payload", err)
	}
	return nil
}

func unknownEventType(env Envelope) error {
	return eventerr.Permanentf("Unknown event type %q on topic %s", env.Event.EventType, env.Topic)
}
