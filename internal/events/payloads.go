package events

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Payload is implemented by every event payload schema.
type Payload interface {
	Validate() error
}

// EmailVerifiedPayload is the body of USER_VERIFY_EMAIL_SUCCESS.
type EmailVerifiedPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (p EmailVerifiedPayload) Validate() error {
	if p.UserID == "" || p.Email == "" {
		return errors.New("userId and email are required")
	}
	return nil
}

// AccountRef describes one provisioned account.
type AccountRef struct {
	WalletID      string `json:"walletId"`
	WalletType    string `json:"walletType"`
	AccountNumber string `json:"accountNumber"`
	IsPublic      bool   `json:"isPublic"`
}

// AccountReadyPayload is the body of USER_ACCOUNT_READY.
type AccountReadyPayload struct {
	UserID   string       `json:"userId"`
	Email    string       `json:"email"`
	Accounts []AccountRef `json:"accounts"`
}

func (p AccountReadyPayload) Validate() error {
	if p.UserID == "" || len(p.Accounts) == 0 {
		return errors.New("userId and accounts are required")
	}
	return nil
}

// PasswordResetPayload is the body of PASSWORD_RESET_REQUESTED and
// PASSWORD_RESET_COMPLETED. ResetToken is only set on requests.
type PasswordResetPayload struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	ResetToken string `json:"resetToken,omitempty"`
}

func (p PasswordResetPayload) Validate() error {
	if p.UserID == "" || p.Email == "" {
		return errors.New("userId and email are required")
	}
	return nil
}

// TransferPayload is the body of TRANSFER_COMPLETED.
type TransferPayload struct {
	TransactionID string          `json:"transactionId"`
	FromWalletID  string          `json:"fromWalletId"`
	ToWalletID    string          `json:"toWalletId"`
	FromEmail     string          `json:"fromEmail"`
	ToEmail       string          `json:"toEmail"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

func (p TransferPayload) Validate() error {
	if p.TransactionID == "" || p.FromWalletID == "" || p.ToWalletID == "" {
		return errors.New("transactionId, fromWalletId and toWalletId are required")
	}
	if p.FromEmail == "" || p.ToEmail == "" {
		return errors.New("fromEmail and toEmail are required")
	}
	if !p.Amount.IsPositive() || p.Currency == "" {
		return errors.New("positive amount and currency are required")
	}
	return nil
}

// DepositPayload is the body of DEPOSIT_COMPLETED.
type DepositPayload struct {
	TransactionID string          `json:"transactionId"`
	WalletID      string          `json:"walletId"`
	Email         string          `json:"email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

func (p DepositPayload) Validate() error {
	if p.TransactionID == "" || p.WalletID == "" || p.Email == "" {
		return errors.New("transactionId, walletId and email are required")
	}
	if !p.Amount.IsPositive() || p.Currency == "" {
		return errors.New("positive amount and currency are required")
	}
	return nil
}

// WithdrawalPayload is the body of WITHDRAWAL_COMPLETED.
type WithdrawalPayload struct {
	TransactionID string          `json:"transactionId"`
	WalletID      string          `json:"walletId"`
	Email         string          `json:"email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

func (p WithdrawalPayload) Validate() error {
	if p.TransactionID == "" || p.WalletID == "" || p.Email == "" {
		return errors.New("transactionId, walletId and email are required")
	}
	if !p.Amount.IsPositive() || p.Currency == "" {
		return errors.New("positive amount and currency are required")
	}
	return nil
}
