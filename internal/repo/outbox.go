package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/wallet-events/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimRaceRetries bounds how many candidates ClaimNext tries when another
// relay wins the compare-and-swap on the row it picked.
const claimRaceRetries = 3

// claimable matches rows a relay may take: PENDING and not recently locked, or
// PROCESSING with a lock older than the staleness window.
const claimable = "(status = ? AND (locked_at IS NULL OR locked_at < ?)) OR (status = ? AND locked_at < ?)"

func claimArgs(cutoff time.Time) []interface{} {
	return []interface{}{model.OutboxPending, cutoff, model.OutboxProcessing, cutoff}
}

// Enqueue writes evt inside tx. A row with the same EventID already present
// means the event was emitted before, so the insert is a no-op.
func (r *Repository) Enqueue(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	if evt == nil {
		return errors.New("outbox event is required")
	}
	if evt.EventID == "" || evt.Topic == "" || evt.EventType == "" || evt.AggregateID == "" {
		return fmt.Errorf("outbox event %q: event id, topic, event type and aggregate id are required", evt.EventID)
	}
	if evt.Version == 0 {
		evt.Version = 1
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = r.now()
	}
	if len(evt.Payload) == 0 {
		evt.Payload = []byte("{}")
	}
	evt.Status = model.OutboxPending

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(evt)
	if res.Error != nil {
		if IsDuplicateKey(res.Error) {
			r.log.Debugw("outbox event already enqueued", "event_id", evt.EventID)
			return nil
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Debugw("outbox event already enqueued", "event_id", evt.EventID)
	}
	return nil
}

// ClaimNext atomically moves the oldest claimable row to PROCESSING and stamps
// locked_at. The update re-checks the claim predicate, so of several relays
// racing for one row exactly one sees RowsAffected == 1. Returns nil when
// nothing is claimable.
func (r *Repository) ClaimNext(ctx context.Context, staleAfter time.Duration) (*model.OutboxEvent, error) {
	for i := 0; i < claimRaceRetries; i++ {
		// timestamptz keeps microseconds; the claim stamp must compare equal
		// after a round trip.
		now := r.now().Truncate(time.Microsecond)
		cutoff := now.Add(-staleAfter)

		var candidate model.OutboxEvent
		err := r.db.WithContext(ctx).
			Where(claimable, claimArgs(cutoff)...).
			Order("created_at asc, id asc").
			Limit(1).
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := r.db.WithContext(ctx).
			Model(&model.OutboxEvent{}).
			Where("id = ?", candidate.ID).
			Where(claimable, claimArgs(cutoff)...).
			Updates(map[string]interface{}{
				"status":    model.OutboxProcessing,
				"locked_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			candidate.Status = model.OutboxProcessing
			candidate.LockedAt = &now
			return &candidate, nil
		}
	}
	return nil, nil
}

// heldBy scopes an update to the row while it is still under claim, i.e. still
// PROCESSING with the locked_at stamped by ClaimNext.
func heldBy(db *gorm.DB, claim *model.OutboxEvent) *gorm.DB {
	return db.Model(&model.OutboxEvent{}).
		Where("id = ? AND status = ? AND locked_at = ?", claim.ID, model.OutboxProcessing, *claim.LockedAt)
}

func claimUpdate(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkOutboxProcessed sets PROCESSED and sent_at on a row claimed by ClaimNext.
// It returns ErrClaimLost when the claim was taken over by another relay.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, claim *model.OutboxEvent) error {
	if claim.LockedAt == nil {
		return ErrClaimLost
	}
	now := r.now()
	res := heldBy(r.db.WithContext(ctx), claim).
		Updates(map[string]interface{}{"status": model.OutboxProcessed, "sent_at": &now})
	return claimUpdate(res)
}

// MarkOutboxFailed sets FAILED and bumps retry_count on a claimed row. FAILED
// rows are not claimed again until an operator requeues them.
func (r *Repository) MarkOutboxFailed(ctx context.Context, claim *model.OutboxEvent, reason string) error {
	if claim.LockedAt == nil {
		return ErrClaimLost
	}
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	res := heldBy(r.db.WithContext(ctx), claim).
		Updates(map[string]interface{}{
			"status":      model.OutboxFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  reason,
		})
	return claimUpdate(res)
}

// RequeueOutbox moves a FAILED row back to PENDING.
func (r *Repository) RequeueOutbox(ctx context.Context, eventID string) error {
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("event_id = ? AND status = ?", eventID, model.OutboxFailed).
		Updates(map[string]interface{}{"status": model.OutboxPending, "locked_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotRequeueable
	}
	return nil
}

// GetOutboxEvent loads a row by its event id.
func (r *Repository) GetOutboxEvent(ctx context.Context, eventID string) (*model.OutboxEvent, error) {
	var evt model.OutboxEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&evt).Error; err != nil {
		return nil, err
	}
	return &evt, nil
}
