// Package consumer runs processors against broker messages with exactly-once
// effects: each message is processed inside a transaction that first records
// its event id in the idempotency ledger.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/richardliu001/wallet-events/internal/eventerr"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/processor"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reader is the part of *kafka.Reader the consumer uses. Offsets are committed
// explicitly after a message reaches a final outcome.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Ledger records processed event ids.
type Ledger interface {
	EnsureIdempotent(ctx context.Context, tx *gorm.DB, eventID, topic string) (bool, error)
}

// TxRunner runs fn in a transaction.
type TxRunner interface {
	Run(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DeadLetterer receives permanently failed messages.
type DeadLetterer interface {
	Send(ctx context.Context, originalTopic, eventID string, payload []byte, cause error)
}

// Outcome is the final disposition of one message.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDeadLettered Outcome = "dead_lettered"
	// OutcomeAbandoned means shutdown interrupted the message. Its offset is
	// not committed, so it is delivered again.
	OutcomeAbandoned Outcome = "abandoned"
)

// Config bounds in-process redelivery of transient failures.
type Config struct {
	MaxDeliveries  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// finalizeTimeout bounds dead-lettering and offset commits that run after
// shutdown has cancelled the consume context.
const finalizeTimeout = 5 * time.Second

// DefaultConfig delivers a message at most 10 times, backing off from 200ms to 30s.
func DefaultConfig() Config {
	return Config{MaxDeliveries: 10, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

// Consumer drives a Reader through the processor registry.
type Consumer struct {
	reader   Reader
	registry *processor.Registry
	ledger   Ledger
	runner   TxRunner
	sink     DeadLetterer
	cfg      Config
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// New returns a Consumer. Zero config fields take their defaults.
func New(reader Reader, registry *processor.Registry, ledger Ledger, runner TxRunner, sink DeadLetterer, cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Consumer {
	d := DefaultConfig()
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = d.MaxDeliveries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	return &Consumer{
		reader:   reader,
		registry: registry,
		ledger:   ledger,
		runner:   runner,
		sink:     sink,
		cfg:      cfg,
		log:      logger,
		metrics:  m,
	}
}

// Run fetches and handles messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Infow("consumer started", "topics", c.registry.Topics(), "max_deliveries", c.cfg.MaxDeliveries)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return nil
			}
			c.log.Errorw("fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.InitialBackoff):
			}
			continue
		}

		if c.Handle(ctx, msg) == OutcomeAbandoned {
			continue
		}
		cctx, cancel := finalizing(ctx)
		err = c.reader.CommitMessages(cctx, msg)
		cancel()
		if err != nil {
			// The message comes back after a rebalance and is acknowledged as a duplicate.
			c.log.Warnw("commit offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// Handle drives one message to a final outcome. Transient failures are
// retried in-process with backoff; after MaxDeliveries the message is
// dead-lettered. Permanent failures are dead-lettered at once. Duplicates are
// acknowledged without running the processor.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) Outcome {
	start := time.Now()
	outcome := c.handle(ctx, msg)
	c.metrics.ConsumerEvents.WithLabelValues(msg.Topic, string(outcome)).Inc()
	c.metrics.ConsumerLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	return outcome
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) Outcome {
	env, err := processor.Decode(msg.Topic, msg.Value)
	if err != nil {
		c.deadLetter(ctx, msg.Topic, string(msg.Key), msg.Value, err)
		return OutcomeDeadLettered
	}
	p, ok := c.registry.Lookup(msg.Topic)
	if !ok {
		c.deadLetter(ctx, msg.Topic, env.Event.EventID, msg.Value, eventerr.Permanentf("no processor for topic %s", msg.Topic))
		return OutcomeDeadLettered
	}

	b := backoff.WithContext(c.newBackOff(), ctx)
	for {
		err := c.process(ctx, p, env)
		switch eventerr.KindOf(err) {
		case 0:
			c.log.Infow("event processed", "event_id", env.Event.EventID, "topic", env.Topic, "event_type", env.Event.EventType, "attempt", env.Attempt)
			return OutcomeProcessed
		case eventerr.KindConflict:
			c.log.Infow("event already processed, skipping", "event_id", env.Event.EventID, "topic", env.Topic)
			return OutcomeDuplicate
		case eventerr.KindPermanent:
			c.deadLetter(ctx, env.Topic, env.Event.EventID, msg.Value, err)
			return OutcomeDeadLettered
		case eventerr.KindTransient:
			if ctx.Err() != nil {
				c.log.Warnw("event abandoned on shutdown", "event_id", env.Event.EventID, "topic", env.Topic, "error", err)
				return OutcomeAbandoned
			}
			if env.Attempt >= c.cfg.MaxDeliveries {
				c.deadLetter(ctx, env.Topic, env.Event.EventID, msg.Value,
					fmt.Errorf("retries exhausted after %d attempts: %w", env.Attempt, err))
				return OutcomeDeadLettered
			}
			wait := b.NextBackOff()
			c.log.Warnw("transient failure, redelivering", "event_id", env.Event.EventID, "topic", env.Topic, "attempt", env.Attempt, "backoff", wait, "error", err)
			if wait == backoff.Stop {
				return OutcomeAbandoned
			}
			select {
			case <-ctx.Done():
				return OutcomeAbandoned
			case <-time.After(wait):
			}
			env.Attempt++
		default:
			c.deadLetter(ctx, env.Topic, env.Event.EventID, msg.Value, fmt.Errorf("unclassified failure: %w", err))
			return OutcomeDeadLettered
		}
	}
}

// finalizing detaches from ctx's cancellation so a message that reached a
// final outcome is recorded even while shutting down.
func finalizing(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (c *Consumer) deadLetter(ctx context.Context, topic, eventID string, payload []byte, cause error) {
	sctx, cancel := finalizing(ctx)
	defer cancel()
	c.sink.Send(sctx, topic, eventID, payload, cause)
}

// process runs the idempotency insert and the processor in one transaction.
// A Conflict return rolls back the (empty) transaction and reports a duplicate.
func (c *Consumer) process(ctx context.Context, p processor.Processor, env processor.Envelope) error {
	return c.runner.Run(ctx, func(tx *gorm.DB) error {
		first, err := c.ledger.EnsureIdempotent(ctx, tx, env.Event.EventID, env.Topic)
		if err != nil {
			return eventerr.Transient("record processed event", err)
		}
		if !first {
			return eventerr.Conflict(fmt.Sprintf("event %s already processed", env.Event.EventID), nil)
		}
		return eventerr.Wrap(p.Process(ctx, tx, env))
	})
}

func (c *Consumer) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	return eb
}
