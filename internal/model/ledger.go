package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryNature string

const (
	Debit  EntryNature = "DEBIT"
	Credit EntryNature = "CREDIT"
)

// LedgerEntry is an immutable posting. One leg per (transaction, ledger account).
type LedgerEntry struct {
	ID              uint64          `gorm:"primaryKey" json:"id"`
	TransactionID   string          `gorm:"size:64;not null;uniqueIndex:idx_entry_tx_account,priority:1" json:"transactionId"`
	LedgerAccountID string          `gorm:"size:64;not null;uniqueIndex:idx_entry_tx_account,priority:2;index" json:"ledgerAccountId"`
	Nature          EntryNature     `gorm:"size:8;not null" json:"nature"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Currency        string          `gorm:"size:8;not null" json:"currency"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}

func (LedgerEntry) TableName() string { return "ledger_entry" }

// All lists every table the services own, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{}, &Wallet{}, &LedgerAccount{}, &Account{}, &LedgerEntry{},
		&OutboxEvent{}, &ProcessedEvent{}, &DeadLetter{},
	}
}
