package repo

import (
	"context"
	"errors"

	"github.com/richardliu001/wallet-events/internal/model"
	"gorm.io/gorm"
)

// CreateUser inserts u.
func (r *Repository) CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error {
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, tx *gorm.DB, id string) (*model.User, error) {
	var u model.User
	if err := tx.WithContext(ctx).Where("id = ?", id).Take(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TransitionUserStatus moves a user from -> to only if the row is still in
// from. It returns false when the guard did not match (the status changed
// concurrently). Illegal transitions fail before touching the row.
func (r *Repository) TransitionUserStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.AccountStatus) (bool, error) {
	if err := model.AssertValidTransition(from, to); err != nil {
		return false, err
	}
	res := tx.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND account_status = ?", id, from).
		Update("account_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
