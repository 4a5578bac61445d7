package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureWallet returns the user's wallet of type t, creating it with zero
// balances if missing. The (user_id, type) unique index makes it safe to call
// again for the same user.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID string, t model.WalletType) (*model.Wallet, error) {
	w := model.Wallet{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             t,
		AvailableBalance: decimal.Zero,
		LockedBalance:    decimal.Zero,
	}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&w).Error; err != nil && !IsDuplicateKey(err) {
		return nil, err
	}
	var got model.Wallet
	if err := tx.WithContext(ctx).Where("user_id = ? AND type = ?", userID, t).Take(&got).Error; err != nil {
		return nil, err
	}
	return &got, nil
}

// EnsureLedgerAccount returns the ledger account of walletID, creating it if missing.
func (r *Repository) EnsureLedgerAccount(ctx context.Context, tx *gorm.DB, w *model.Wallet, currency string) (*model.LedgerAccount, error) {
	la := model.LedgerAccount{ID: uuid.NewString(), WalletID: w.ID, Type: w.Type, Currency: currency}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&la).Error; err != nil && !IsDuplicateKey(err) {
		return nil, err
	}
	var got model.LedgerAccount
	if err := tx.WithContext(ctx).Where("wallet_id = ?", w.ID).Take(&got).Error; err != nil {
		return nil, err
	}
	return &got, nil
}

// FindAccount returns the public account of a ledger account, or nil.
func (r *Repository) FindAccount(ctx context.Context, tx *gorm.DB, ledgerAccountID string) (*model.Account, error) {
	var got model.Account
	err := tx.WithContext(ctx).Where("ledger_account_id = ?", ledgerAccountID).Take(&got).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &got, nil
}

// CreateAccount inserts acc unless its ledger account already has one. It
// returns ErrAccountNumberTaken when the number belongs to another account.
func (r *Repository) CreateAccount(ctx context.Context, tx *gorm.DB, acc *model.Account) (*model.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(acc).Error; err != nil && !IsDuplicateKey(err) {
		return nil, err
	}
	got, err := r.FindAccount(ctx, tx, acc.LedgerAccountID)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, ErrAccountNumberTaken
	}
	return got, nil
}

// ListWallets returns a user's wallets.
func (r *Repository) ListWallets(ctx context.Context, tx *gorm.DB, userID string) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := tx.WithContext(ctx).Where("user_id = ?", userID).Order("type").Find(&ws).Error
	return ws, err
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).Take(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, available decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"available_balance": available,
			"version":           oldVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// GetLedgerAccountByWallet returns the ledger account backing walletID.
func (r *Repository) GetLedgerAccountByWallet(ctx context.Context, tx *gorm.DB, walletID string) (*model.LedgerAccount, error) {
	var la model.LedgerAccount
	if err := tx.WithContext(ctx).Where("wallet_id = ?", walletID).Take(&la).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &la, nil
}
