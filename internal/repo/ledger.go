package repo

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionEntries returns the legs already posted under transactionID.
// An empty result means the transaction was never posted.
func (r *Repository) TransactionEntries(ctx context.Context, tx *gorm.DB, transactionID string) ([]model.LedgerEntry, error) {
	var es []model.LedgerEntry
	err := tx.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id asc").Find(&es).Error
	return es, err
}

// CreateEntries inserts all legs of a posting.
func (r *Repository) CreateEntries(ctx context.Context, tx *gorm.DB, entries []model.LedgerEntry) error {
	return tx.WithContext(ctx).Create(&entries).Error
}

// LedgerBalance sums credits minus debits for a ledger account.
func (r *Repository) LedgerBalance(ctx context.Context, tx *gorm.DB, ledgerAccountID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := tx.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN nature = ? THEN amount ELSE -amount END), 0)", model.Credit).
		Where("ledger_account_id = ?", ledgerAccountID).
		Row().Scan(&bal)
	return bal, err
}

// ListEntries fetches recent postings of a ledger account.
func (r *Repository) ListEntries(ctx context.Context, ledgerAccountID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var es []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("ledger_account_id = ? AND created_at >= ?", ledgerAccountID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&es).Error
	return es, err
}
