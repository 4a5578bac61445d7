package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletType string

const (
	WalletMainCheckings WalletType = "MAIN_CHECKINGS"
	WalletSavings       WalletType = "SAVINGS"
)

// DefaultCurrency is the only currency wallets are provisioned with.
const DefaultCurrency = "USD"

// Wallet is unique per (user, type) so re-running provisioning cannot duplicate it.
type Wallet struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	UserID           string          `gorm:"size:64;not null;uniqueIndex:idx_wallet_user_type,priority:1" json:"userId"`
	Type             WalletType      `gorm:"size:32;not null;uniqueIndex:idx_wallet_user_type,priority:2" json:"type"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"availableBalance"`
	LockedBalance    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"lockedBalance"`
	Version          uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string { return "wallet" }

// LedgerAccount is one-to-one with a Wallet.
type LedgerAccount struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	WalletID  string     `gorm:"size:64;not null;uniqueIndex" json:"walletId"`
	Type      WalletType `gorm:"size:32;not null" json:"type"`
	Currency  string     `gorm:"size:8;not null" json:"currency"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

func (LedgerAccount) TableName() string { return "ledger_account" }

// Account is the public-facing account, one-to-one with a LedgerAccount.
type Account struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	UserID          string    `gorm:"size:64;not null;index" json:"userId"`
	LedgerAccountID string    `gorm:"size:64;not null;uniqueIndex" json:"ledgerAccountId"`
	AccountNumber   string    `gorm:"size:10;not null;uniqueIndex" json:"accountNumber"`
	IsPublic        bool      `gorm:"not null" json:"isPublic"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Account) TableName() string { return "account" }
