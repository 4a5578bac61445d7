package repo

import (
	"context"

	"github.com/richardliu001/wallet-events/internal/model"
)

// SaveDeadLetter persists a dead-letter record.
func (r *Repository) SaveDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	return r.db.WithContext(ctx).Create(dl).Error
}

// ListDeadLetters returns the newest dead letters first.
func (r *Repository) ListDeadLetters(ctx context.Context, topic string, limit int) ([]model.DeadLetter, error) {
	q := r.db.WithContext(ctx).Order("failed_at desc").Limit(limit)
	if topic != "" {
		q = q.Where("original_topic = ?", topic)
	}
	var out []model.DeadLetter
	err := q.Find(&out).Error
	return out, err
}
