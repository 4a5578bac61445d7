package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount means non-positive amount passed.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMissingIdempotencyKey means the caller sent no idempotency key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	// ErrSameWallet means a transfer names the same wallet twice.
	ErrSameWallet = errors.New("cannot transfer to the same wallet")
	// ErrCurrencyMismatch means the wallets are held in different currencies.
	ErrCurrencyMismatch = errors.New("wallets use different currencies")
	// ErrIdempotencyKeyReused means the key was already posted with a
	// different amount or counterparty.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different operation")
)

// FundingLedgerAccountID is the contra account debited by deposits and
// credited by withdrawals.
const FundingLedgerAccountID = "external:funding"

// transactionNamespace scopes transaction ids derived from idempotency keys.
var transactionNamespace = uuid.MustParse("0b6c8f3e-2f43-4a47-9a0e-3c1d0f9e2b71")

// LedgerStore is the persistence LedgerService needs.
type LedgerStore interface {
	DB(ctx context.Context) *gorm.DB
	GetUser(ctx context.Context, tx *gorm.DB, id string) (*model.User, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, available decimal.Decimal, oldVersion uint64) error
	GetLedgerAccountByWallet(ctx context.Context, tx *gorm.DB, walletID string) (*model.LedgerAccount, error)
	TransactionEntries(ctx context.Context, tx *gorm.DB, transactionID string) ([]model.LedgerEntry, error)
	CreateEntries(ctx context.Context, tx *gorm.DB, entries []model.LedgerEntry) error
	LedgerBalance(ctx context.Context, tx *gorm.DB, ledgerAccountID string) (decimal.Decimal, error)
	ListEntries(ctx context.Context, ledgerAccountID string, limit int, since time.Time) ([]model.LedgerEntry, error)
	Enqueue(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	InvalidateBalance(ctx context.Context, walletID string) error
}

// DepositResult is the outcome of a deposit. Replayed is set when the
// idempotency key had already been posted.
type DepositResult struct {
	TransactionID string          `json:"transactionId"`
	Balance       decimal.Decimal `json:"balance"`
	Replayed      bool            `json:"replayed"`
}

// WithdrawalResult is the outcome of a withdrawal.
type WithdrawalResult struct {
	TransactionID string          `json:"transactionId"`
	Balance       decimal.Decimal `json:"balance"`
	Replayed      bool            `json:"replayed"`
}

// TransferResult is the outcome of a transfer.
type TransferResult struct {
	TransactionID string          `json:"transactionId"`
	FromBalance   decimal.Decimal `json:"fromBalance"`
	ToBalance     decimal.Decimal `json:"toBalance"`
	Replayed      bool            `json:"replayed"`
}

// LedgerService posts double-entry movements and emits the matching events.
type LedgerService struct {
	store  LedgerStore
	runner TxRunner
	log    *zap.SugaredLogger
}

// NewLedgerService returns LedgerService.
func NewLedgerService(store LedgerStore, runner TxRunner, logger *zap.SugaredLogger) *LedgerService {
	return &LedgerService{store: store, runner: runner, log: logger}
}

// TransactionID derives the ledger transaction id of an operation from its
// idempotency key, so a retried request maps onto the same postings.
func TransactionID(op, walletID, key string) string {
	return uuid.NewSHA1(transactionNamespace, []byte(op+":"+walletID+":"+key)).String()
}

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"
	opTransfer = "transfer"
)

// Deposit credits walletID from the funding account.
func (s *LedgerService) Deposit(ctx context.Context, walletID string, amt decimal.Decimal, key string, ec model.EventContext) (*DepositResult, error) {
	return s.postFunding(ctx, opDeposit, walletID, amt, key, ec)
}

// Withdraw debits walletID into the funding account.
func (s *LedgerService) Withdraw(ctx context.Context, walletID string, amt decimal.Decimal, key string, ec model.EventContext) (*WithdrawalResult, error) {
	res, err := s.postFunding(ctx, opWithdraw, walletID, amt, key, ec)
	if err != nil {
		return nil, err
	}
	return &WithdrawalResult{TransactionID: res.TransactionID, Balance: res.Balance, Replayed: res.Replayed}, nil
}

// postFunding moves amt between walletID and the funding account: credited to
// the wallet for deposits, debited from it for withdrawals.
func (s *LedgerService) postFunding(ctx context.Context, op, walletID string, amt decimal.Decimal, key string, ec model.EventContext) (*DepositResult, error) {
	if !amt.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}
	res := &DepositResult{TransactionID: TransactionID(op, walletID, key)}
	err := s.runner.Run(ctx, func(tx *gorm.DB) error {
		w, err := s.store.GetWalletForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		la, err := s.store.GetLedgerAccountByWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		debit, credit := FundingLedgerAccountID, la.ID
		newBal := w.AvailableBalance.Add(amt)
		if op == opWithdraw {
			debit, credit = la.ID, FundingLedgerAccountID
			newBal = w.AvailableBalance.Sub(amt)
		}

		legs, err := s.store.TransactionEntries(ctx, tx, res.TransactionID)
		if err != nil {
			return err
		}
		if len(legs) > 0 {
			if !samePosting(legs, debit, credit, amt) {
				return ErrIdempotencyKeyReused
			}
			res.Balance, res.Replayed = w.AvailableBalance, true
			return nil
		}
		if newBal.IsNegative() {
			return repo.ErrInsufficientFunds
		}

		owner, err := s.store.GetUser(ctx, tx, w.UserID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateWallet(ctx, tx, walletID, newBal, w.Version); err != nil {
			return err
		}
		if err := s.store.CreateEntries(ctx, tx, []model.LedgerEntry{
			{TransactionID: res.TransactionID, LedgerAccountID: debit, Nature: model.Debit, Amount: amt, Currency: la.Currency},
			{TransactionID: res.TransactionID, LedgerAccountID: credit, Nature: model.Credit, Amount: amt, Currency: la.Currency},
		}); err != nil {
			return err
		}
		evt, err := fundingEvent(op, walletID, res.TransactionID, owner.Email, amt, la.Currency, ec)
		if err != nil {
			return err
		}
		if err := s.store.Enqueue(ctx, tx, evt); err != nil {
			return err
		}
		res.Balance = newBal
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		s.invalidate(ctx, walletID)
		s.log.Infow(op+" posted", "transaction_id", res.TransactionID, "wallet_id", walletID, "amount", amt)
	}
	return res, nil
}

func fundingEvent(op, walletID, txID, email string, amt decimal.Decimal, currency string, ec model.EventContext) (*model.OutboxEvent, error) {
	topic, eventType := events.TopicDepositCompleted, events.DepositCompleted
	var payload interface{} = events.DepositPayload{
		TransactionID: txID, WalletID: walletID, Email: email, Amount: amt, Currency: currency,
	}
	if op == opWithdraw {
		topic, eventType = events.TopicWithdrawalCompleted, events.WithdrawalCompleted
		payload = events.WithdrawalPayload{
			TransactionID: txID, WalletID: walletID, Email: email, Amount: amt, Currency: currency,
		}
	}
	return events.NewOutboxEvent(topic, eventType, events.AggregateWallet, walletID, payload,
		events.WithEventID(txID),
		events.WithContext(ec),
	)
}

// samePosting reports whether legs are exactly one debit of amt from debit and
// one credit of amt to credit.
func samePosting(legs []model.LedgerEntry, debit, credit string, amt decimal.Decimal) bool {
	if len(legs) != 2 || legs[0].Nature == legs[1].Nature {
		return false
	}
	for _, l := range legs {
		if !l.Amount.Equal(amt) {
			return false
		}
		want := credit
		if l.Nature == model.Debit {
			want = debit
		}
		if l.LedgerAccountID != want {
			return false
		}
	}
	return true
}

// Transfer moves amt from one wallet to another. Wallet rows are locked in id
// order so concurrent opposite transfers cannot deadlock. Reusing key with a
// different recipient or amount fails with ErrIdempotencyKeyReused.
func (s *LedgerService) Transfer(ctx context.Context, fromID, toID string, amt decimal.Decimal, key string, ec model.EventContext) (*TransferResult, error) {
	if !amt.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if fromID == toID {
		return nil, ErrSameWallet
	}
	res := &TransferResult{TransactionID: TransactionID(opTransfer, fromID, key)}
	err := s.runner.Run(ctx, func(tx *gorm.DB) error {
		// lock wallets in deterministic order
		firstID, secondID := fromID, toID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}
		w1, err := s.store.GetWalletForUpdate(ctx, tx, firstID)
		if err != nil {
			return err
		}
		w2, err := s.store.GetWalletForUpdate(ctx, tx, secondID)
		if err != nil {
			return err
		}
		wFrom, wTo := w1, w2
		if firstID != fromID {
			wFrom, wTo = w2, w1
		}
		laFrom, err := s.store.GetLedgerAccountByWallet(ctx, tx, fromID)
		if err != nil {
			return err
		}
		laTo, err := s.store.GetLedgerAccountByWallet(ctx, tx, toID)
		if err != nil {
			return err
		}

		legs, err := s.store.TransactionEntries(ctx, tx, res.TransactionID)
		if err != nil {
			return err
		}
		if len(legs) > 0 {
			if !samePosting(legs, laFrom.ID, laTo.ID, amt) {
				return ErrIdempotencyKeyReused
			}
			res.FromBalance, res.ToBalance, res.Replayed = wFrom.AvailableBalance, wTo.AvailableBalance, true
			return nil
		}
		if laFrom.Currency != laTo.Currency {
			return ErrCurrencyMismatch
		}
		if wFrom.AvailableBalance.LessThan(amt) {
			return repo.ErrInsufficientFunds
		}
		sender, err := s.store.GetUser(ctx, tx, wFrom.UserID)
		if err != nil {
			return err
		}
		recipient, err := s.store.GetUser(ctx, tx, wTo.UserID)
		if err != nil {
			return err
		}

		newFrom := wFrom.AvailableBalance.Sub(amt)
		newTo := wTo.AvailableBalance.Add(amt)
		if err := s.store.UpdateWallet(ctx, tx, fromID, newFrom, wFrom.Version); err != nil {
			return err
		}
		if err := s.store.UpdateWallet(ctx, tx, toID, newTo, wTo.Version); err != nil {
			return err
		}
		if err := s.store.CreateEntries(ctx, tx, []model.LedgerEntry{
			{TransactionID: res.TransactionID, LedgerAccountID: laFrom.ID, Nature: model.Debit, Amount: amt, Currency: laFrom.Currency},
			{TransactionID: res.TransactionID, LedgerAccountID: laTo.ID, Nature: model.Credit, Amount: amt, Currency: laTo.Currency},
		}); err != nil {
			return err
		}
		evt, err := events.NewOutboxEvent(events.TopicTransferCompleted, events.TransferCompleted, events.AggregateWallet, fromID,
			events.TransferPayload{
				TransactionID: res.TransactionID,
				FromWalletID:  fromID,
				ToWalletID:    toID,
				FromEmail:     sender.Email,
				ToEmail:       recipient.Email,
				Amount:        amt,
				Currency:      laFrom.Currency,
			},
			events.WithEventID(res.TransactionID),
			events.WithContext(ec),
		)
		if err != nil {
			return err
		}
		if err := s.store.Enqueue(ctx, tx, evt); err != nil {
			return err
		}
		res.FromBalance, res.ToBalance = newFrom, newTo
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		s.invalidate(ctx, fromID)
		s.invalidate(ctx, toID)
		s.log.Infow("transfer posted", "transaction_id", res.TransactionID, "from", fromID, "to", toID, "amount", amt)
	}
	return res, nil
}

// Balance returns credits minus debits of the wallet's ledger account, served
// from Redis when cached.
func (s *LedgerService) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if bal, err := s.store.GetCachedBalance(ctx, walletID); err == nil {
		return bal, nil
	}
	db := s.store.DB(ctx)
	la, err := s.store.GetLedgerAccountByWallet(ctx, db, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := s.store.LedgerBalance(ctx, db, la.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.store.CacheBalance(ctx, walletID, bal); err != nil {
		s.log.Warnw("cache balance", "wallet_id", walletID, "error", err)
	}
	return bal, nil
}

// History fetches recent postings of a wallet.
func (s *LedgerService) History(ctx context.Context, walletID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	la, err := s.store.GetLedgerAccountByWallet(ctx, s.store.DB(ctx), walletID)
	if err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, la.ID, limit, since)
}

func (s *LedgerService) invalidate(ctx context.Context, walletID string) {
	if err := s.store.InvalidateBalance(ctx, walletID); err != nil {
		s.log.Warnw("invalidate cached balance", "wallet_id", walletID, "error", err)
	}
}
