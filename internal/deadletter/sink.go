// Package deadletter is the terminal sink for messages that failed permanently.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richardliu001/wallet-events/internal/broker"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Record is the value published to the dead-letter topic.
type Record struct {
	OriginalTopic   string          `json:"originalTopic"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	Error           string          `json:"error"`
	FailedAt        time.Time       `json:"failedAt"`
}

// Store persists dead letters for operator queries.
type Store interface {
	SaveDeadLetter(ctx context.Context, dl *model.DeadLetter) error
}

// Sink publishes dead letters to the broker and records them in the store.
// Both are best effort: failures are logged and never returned, so a broken
// sink cannot crash the consumer or trigger redelivery.
type Sink struct {
	pub     broker.Publisher
	topic   string
	store   Store
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSink returns a Sink publishing to topic. pub or store may be nil.
func NewSink(pub broker.Publisher, topic string, store Store, logger *zap.SugaredLogger, m *metrics.Metrics) *Sink {
	return &Sink{
		pub:     pub,
		topic:   topic,
		store:   store,
		log:     logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send dead-letters payload that arrived on originalTopic.
func (s *Sink) Send(ctx context.Context, originalTopic, eventID string, payload []byte, cause error) {
	errMsg := "unknown error"
	if cause != nil {
		errMsg = cause.Error()
	}
	rec := Record{
		OriginalTopic:   originalTopic,
		OriginalMessage: asJSON(payload),
		Error:           errMsg,
		FailedAt:        s.now(),
	}
	s.metrics.DeadLetters.WithLabelValues(originalTopic).Inc()
	s.log.Errorw("event dead-lettered", "event_id", eventID, "topic", originalTopic, "error", errMsg)

	if s.pub != nil {
		value, err := json.Marshal(rec)
		if err == nil {
			err = s.pub.Publish(ctx, s.topic, []byte(eventID), value)
		}
		if err != nil {
			s.metrics.DeadLetterFails.Inc()
			s.log.Errorw("publish dead letter", "event_id", eventID, "topic", originalTopic, "error", err)
		}
	}
	if s.store != nil {
		dl := &model.DeadLetter{
			EventID:         eventID,
			OriginalTopic:   originalTopic,
			OriginalMessage: datatypes.JSON(rec.OriginalMessage),
			Error:           truncate(errMsg, 2048),
			FailedAt:        rec.FailedAt,
		}
		if err := s.store.SaveDeadLetter(ctx, dl); err != nil {
			s.metrics.DeadLetterFails.Inc()
			s.log.Errorw("store dead letter", "event_id", eventID, "topic", originalTopic, "error", err)
		}
	}
}

// asJSON keeps valid JSON as is and quotes anything else as a JSON string.
func asJSON(payload []byte) json.RawMessage {
	if len(payload) > 0 && json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
