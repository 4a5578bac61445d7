// Package relay moves outbox rows to the broker. Any number of relays may run
// against the same table; rows are claimed with a conditional update so each
// claim has a single winner.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/wallet-events/internal/broker"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/repo"
	"go.uber.org/zap"
)

// Store is the outbox persistence the relay drives.
type Store interface {
	ClaimNext(ctx context.Context, staleAfter time.Duration) (*model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, claim *model.OutboxEvent) error
	MarkOutboxFailed(ctx context.Context, claim *model.OutboxEvent, reason string) error
	RequeueOutbox(ctx context.Context, eventID string) error
}

// Config tunes the poll loop.
type Config struct {
	Interval         time.Duration
	StaleAfter       time.Duration
	MaxClaimsPerTick int
}

// DefaultConfig polls every 2s, reclaims locks older than 60s and publishes at
// most 100 rows per tick.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, StaleAfter: 60 * time.Second, MaxClaimsPerTick: 100}
}

// Relay polls the outbox and publishes claimed rows.
type Relay struct {
	store   Store
	pub     broker.Publisher
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// New returns a Relay. Zero config fields take their defaults.
func New(store Store, pub broker.Publisher, cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Relay {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = d.StaleAfter
	}
	if cfg.MaxClaimsPerTick <= 0 {
		cfg.MaxClaimsPerTick = d.MaxClaimsPerTick
	}
	return &Relay{store: store, pub: pub, cfg: cfg, log: logger, metrics: m}
}

// Run drains the outbox until ctx is cancelled. A tick that hit
// MaxClaimsPerTick is followed immediately by another; otherwise the relay
// waits for the next interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", r.cfg.Interval, "stale_after", r.cfg.StaleAfter, "max_claims_per_tick", r.cfg.MaxClaimsPerTick)
	for {
		n := r.Tick(ctx)
		if n >= r.cfg.MaxClaimsPerTick {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims and publishes rows back-to-back until none is claimable or
// MaxClaimsPerTick is reached. It returns the number of rows claimed.
func (r *Relay) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { r.metrics.RelayTick.Observe(time.Since(start).Seconds()) }()

	claimed := 0
	for claimed < r.cfg.MaxClaimsPerTick {
		if ctx.Err() != nil {
			break
		}
		evt, err := r.store.ClaimNext(ctx, r.cfg.StaleAfter)
		if err != nil {
			r.log.Errorw("claim outbox", "error", err)
			break
		}
		if evt == nil {
			break
		}
		claimed++
		r.metrics.OutboxClaimed.Inc()
		r.publish(ctx, evt)
	}
	return claimed
}

func (r *Relay) publish(ctx context.Context, evt *model.OutboxEvent) {
	key, value, err := broker.Encode(evt)
	if err == nil {
		err = r.pub.Publish(ctx, evt.Topic, key, value)
	}
	if err != nil {
		r.metrics.OutboxFailed.Inc()
		r.log.Errorw("publish outbox event", "event_id", evt.EventID, "topic", evt.Topic, "error", err)
		if mErr := r.store.MarkOutboxFailed(ctx, evt, err.Error()); mErr != nil {
			r.markError("mark outbox failed", evt, mErr)
		}
		return
	}
	if err := r.store.MarkOutboxProcessed(ctx, evt); err != nil {
		// Published but still PROCESSING: reclaimed after StaleAfter and sent again.
		r.markError("mark outbox processed", evt, err)
		return
	}
	r.metrics.OutboxPublished.Inc()
	r.log.Infow("outbox event sent", "event_id", evt.EventID, "topic", evt.Topic, "event_type", evt.EventType)
}

func (r *Relay) markError(msg string, evt *model.OutboxEvent, err error) {
	if errors.Is(err, repo.ErrClaimLost) {
		r.log.Warnw(msg+": claim lost to another relay", "event_id", evt.EventID, "locked_at", evt.LockedAt)
		return
	}
	r.log.Errorw(msg, "event_id", evt.EventID, "error", err)
}

// Requeue returns a FAILED row to PENDING so the next tick publishes it again.
func (r *Relay) Requeue(ctx context.Context, eventID string) error {
	if err := r.store.RequeueOutbox(ctx, eventID); err != nil {
		return err
	}
	r.log.Infow("outbox event requeued", "event_id", eventID)
	return nil
}
