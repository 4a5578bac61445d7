// Package jobs queues best-effort side tasks (emails) on Redis.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/wallet-events/internal/eventerr"
)

const (
	// EmailQueueKey is the Redis list mail workers pop from.
	EmailQueueKey = "jobs:email"
	dedupPrefix   = "jobs:email:seen:"
	dedupTTL      = 7 * 24 * time.Hour
)

// Email templates.
const (
	TemplateWelcome          = "welcome"
	TemplatePasswordReset    = "password_reset"
	TemplatePasswordChanged  = "password_changed"
	TemplateTransferSent     = "transfer_sent"
	TemplateTransferReceived = "transfer_received"
	TemplateDepositReceived  = "deposit_received"
	TemplateWithdrawalSent   = "withdrawal_sent"
)

// EmailJob is one email to send. ID is derived from the triggering event so a
// redelivered event does not queue the same email twice.
type EmailJob struct {
	ID         string            `json:"id"`
	Template   string            `json:"template"`
	To         string            `json:"to"`
	Data       map[string]string `json:"data,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Queue accepts email jobs.
type Queue interface {
	EnqueueEmail(ctx context.Context, job EmailJob) error
}

// RedisQueue is a Redis list with a per-job dedup key.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue returns a queue on rdb.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// EnqueueEmail pushes job unless a job with the same id was pushed before.
// Redis failures are transient.
func (q *RedisQueue) EnqueueEmail(ctx context.Context, job EmailJob) error {
	if job.ID == "" || job.To == "" || job.Template == "" {
		return eventerr.Permanentf("email job requires id, recipient and template")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return eventerr.Permanent("marshal email job", err)
	}

	first, err := q.rdb.SetNX(ctx, dedupPrefix+job.ID, 1, dedupTTL).Result()
	if err != nil {
		return eventerr.Transient("email job dedup", err)
	}
	if !first {
		return nil
	}
	if err := q.rdb.LPush(ctx, EmailQueueKey, body).Err(); err != nil {
		// Release the dedup key so the redelivered event can queue it.
		_ = q.rdb.Del(ctx, dedupPrefix+job.ID).Err()
		return eventerr.Transient(fmt.Sprintf("enqueue email job %s", job.ID), err)
	}
	return nil
}
