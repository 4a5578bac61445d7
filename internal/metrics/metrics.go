package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_events"

// Metrics holds the relay and consumer instruments.
type Metrics struct {
	OutboxClaimed   prometheus.Counter
	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	RelayTick       prometheus.Histogram

	ConsumerEvents  *prometheus.CounterVec
	ConsumerLatency *prometheus.HistogramVec
	DeadLetters     *prometheus.CounterVec
	DeadLetterFails prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OutboxClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "outbox_claimed_total",
			Help:      "Outbox rows claimed by this relay",
		}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "outbox_published_total",
			Help:      "Outbox rows published to the broker",
		}),
		OutboxFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "outbox_failed_total",
			Help:      "Outbox rows marked FAILED after a publish error",
		}),
		RelayTick: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "tick_duration_seconds",
			Help:      "Time spent draining the outbox per tick",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ConsumerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "events_total",
			Help:      "Consumed events by topic and outcome",
		}, []string{"topic", "outcome"}),
		ConsumerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "processing_duration_seconds",
			Help:      "Time from fetch to final outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deadletter",
			Name:      "records_total",
			Help:      "Messages sent to the dead-letter sink",
		}, []string{"topic"}),
		DeadLetterFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deadletter",
			Name:      "publish_failures_total",
			Help:      "Dead-letter publishes or writes that failed",
		}),
	}
}
