package repo

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-events/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessedRetention is how long idempotency records are kept.
const ProcessedRetention = 30 * 24 * time.Hour

// EnsureIdempotent records eventID as processed inside tx. It returns true when
// this is the first time the id is seen and false when it was recorded before.
// It must share tx with the processor's state changes so both commit together.
func (r *Repository) EnsureIdempotent(ctx context.Context, tx *gorm.DB, eventID, topic string) (bool, error) {
	rec := model.ProcessedEvent{EventID: eventID, Topic: topic, ProcessedAt: r.now()}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		if IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PurgeProcessedBefore deletes idempotency records older than before.
func (r *Repository) PurgeProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("processed_at < ?", before).Delete(&model.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
