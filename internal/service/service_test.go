package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/richardliu001/wallet-events/internal/testutil"
	"github.com/richardliu001/wallet-events/internal/txn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	repo    *repo.Repository
	runner  *txn.Runner
	ledger  *LedgerService
	account *AccountService
}

func newFixture(t *testing.T, r func(db *gorm.DB) *repo.Repository) *fixture {
	db := testutil.NewDB(t)
	if r == nil {
		r = func(db *gorm.DB) *repo.Repository { return repo.NewRepository(db, nil, testutil.Logger()) }
	}
	repository := r(db)
	runner := txn.NewRunner(db, txn.DefaultOptions(), testutil.Logger())
	return &fixture{
		db:      db,
		repo:    repository,
		runner:  runner,
		ledger:  NewLedgerService(repository, runner, testutil.Logger()),
		account: NewAccountService(repository, runner, testutil.Logger()),
	}
}

// seedWallet creates a provisioned user with one USD wallet.
func (f *fixture) seedWallet(t *testing.T, userID, walletID string) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.User{ID: userID, Email: userID + "@example.com", AccountStatus: model.StatusActive}).Error)
	require.NoError(t, f.db.Create(&model.Wallet{ID: walletID, UserID: userID, Type: model.WalletMainCheckings}).Error)
	require.NoError(t, f.db.Create(&model.LedgerAccount{ID: "la-" + walletID, WalletID: walletID, Type: model.WalletMainCheckings, Currency: model.DefaultCurrency}).Error)
}

func (f *fixture) outbox(t *testing.T) []model.OutboxEvent {
	t.Helper()
	var out []model.OutboxEvent
	require.NoError(t, f.db.Order("id").Find(&out).Error)
	return out
}

func TestLedgerService_FullFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")
	f.seedWallet(t, "bob", "w-b")

	dep, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(100), "init1", model.EventContext{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "100", dep.Balance.StringFixed(0))

	_, err = f.ledger.Transfer(ctx, "w-a", "w-b", decimal.NewFromInt(130), "too-much", model.EventContext{})
	assert.ErrorIs(t, err, repo.ErrInsufficientFunds)

	tr, err := f.ledger.Transfer(ctx, "w-a", "w-b", decimal.NewFromInt(30), "tx1", model.EventContext{})
	require.NoError(t, err)
	assert.Equal(t, "70", tr.FromBalance.StringFixed(0))
	assert.Equal(t, "30", tr.ToBalance.StringFixed(0))
	assert.False(t, tr.Replayed)

	again, err := f.ledger.Transfer(ctx, "w-a", "w-b", decimal.NewFromInt(30), "tx1", model.EventContext{})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, tr.TransactionID, again.TransactionID)
	assert.True(t, tr.FromBalance.Equal(again.FromBalance))

	b1, err := f.ledger.Balance(ctx, "w-a")
	require.NoError(t, err)
	b2, err := f.ledger.Balance(ctx, "w-b")
	require.NoError(t, err)
	assert.Equal(t, "70", b1.StringFixed(0))
	assert.Equal(t, "30", b2.StringFixed(0))

	hist, err := f.ledger.History(ctx, "w-a", 10, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, hist, 2) // deposit credit + transfer debit

	rows := f.outbox(t)
	require.Len(t, rows, 2)
	assert.Equal(t, dep.TransactionID, rows[0].EventID)
	assert.Equal(t, events.TopicDepositCompleted, rows[0].Topic)
	assert.Equal(t, "req-1", rows[0].Context.Data().RequestID)
	assert.Equal(t, tr.TransactionID, rows[1].EventID)
	assert.Equal(t, events.TopicTransferCompleted, rows[1].Topic)
	assert.Equal(t, "w-a", rows[1].AggregateID)
}

func TestLedgerService_DepositIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")

	first, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(50), "k", model.EventContext{})
	require.NoError(t, err)
	second, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(50), "k", model.EventContext{})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, "50", second.Balance.StringFixed(0))
	assert.Len(t, f.outbox(t), 1)
}

func TestLedgerService_Withdraw(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")

	_, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(100), "fund", model.EventContext{})
	require.NoError(t, err)

	_, err = f.ledger.Withdraw(ctx, "w-a", decimal.NewFromInt(150), "w-too-much", model.EventContext{})
	assert.ErrorIs(t, err, repo.ErrInsufficientFunds)

	wd, err := f.ledger.Withdraw(ctx, "w-a", decimal.NewFromInt(40), "w1", model.EventContext{})
	require.NoError(t, err)
	assert.Equal(t, "60", wd.Balance.StringFixed(0))
	assert.False(t, wd.Replayed)

	again, err := f.ledger.Withdraw(ctx, "w-a", decimal.NewFromInt(40), "w1", model.EventContext{})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, wd.TransactionID, again.TransactionID)
	assert.Equal(t, "60", again.Balance.StringFixed(0))

	legs, err := f.repo.TransactionEntries(ctx, f.db, wd.TransactionID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "la-w-a", legs[0].LedgerAccountID)
	assert.Equal(t, model.Debit, legs[0].Nature)
	assert.Equal(t, FundingLedgerAccountID, legs[1].LedgerAccountID)
	assert.Equal(t, model.Credit, legs[1].Nature)

	bal, err := f.ledger.Balance(ctx, "w-a")
	require.NoError(t, err)
	assert.Equal(t, "60", bal.StringFixed(0))

	rows := f.outbox(t)
	require.Len(t, rows, 2)
	assert.Equal(t, wd.TransactionID, rows[1].EventID)
	assert.Equal(t, events.TopicWithdrawalCompleted, rows[1].Topic)
	assert.Equal(t, events.WithdrawalCompleted, rows[1].EventType)
}

func TestLedgerService_ReusedKeyWithDifferentLegs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")
	f.seedWallet(t, "bob", "w-b")
	f.seedWallet(t, "carol", "w-c")

	_, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(100), "fund", model.EventContext{})
	require.NoError(t, err)
	_, err = f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(70), "fund", model.EventContext{})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)

	_, err = f.ledger.Transfer(ctx, "w-a", "w-b", decimal.NewFromInt(30), "pay", model.EventContext{})
	require.NoError(t, err)
	_, err = f.ledger.Transfer(ctx, "w-a", "w-c", decimal.NewFromInt(30), "pay", model.EventContext{})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	_, err = f.ledger.Transfer(ctx, "w-a", "w-b", decimal.NewFromInt(31), "pay", model.EventContext{})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)

	var w model.Wallet
	require.NoError(t, f.db.First(&w, "id = ?", "w-c").Error)
	assert.True(t, w.AvailableBalance.IsZero())
	assert.Len(t, f.outbox(t), 2)
}

func TestLedgerService_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")

	_, err := f.ledger.Deposit(ctx, "w-a", decimal.Zero, "k", model.EventContext{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(1), "", model.EventContext{})
	assert.ErrorIs(t, err, ErrMissingIdempotencyKey)
	_, err = f.ledger.Deposit(ctx, "w-404", decimal.NewFromInt(1), "k", model.EventContext{})
	assert.ErrorIs(t, err, repo.ErrWalletNotFound)
	_, err = f.ledger.Transfer(ctx, "w-a", "w-a", decimal.NewFromInt(1), "k", model.EventContext{})
	assert.ErrorIs(t, err, ErrSameWallet)
	_, err = f.ledger.Withdraw(ctx, "w-a", decimal.NewFromInt(-5), "k", model.EventContext{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.Withdraw(ctx, "w-a", decimal.NewFromInt(5), "k", model.EventContext{})
	assert.ErrorIs(t, err, repo.ErrInsufficientFunds)
	assert.Empty(t, f.outbox(t))
}

func TestLedgerService_BalanceIsCached(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	f := newFixture(t, func(db *gorm.DB) *repo.Repository { return repo.NewRepository(db, rdb, testutil.Logger()) })
	ctx := context.Background()
	f.seedWallet(t, "alice", "w-a")

	mock.ExpectDel("balance:w-a").SetVal(1)
	mock.ExpectGet("balance:w-a").RedisNil()
	mock.ExpectSet("balance:w-a", "100", 5*time.Minute).SetVal("OK")
	mock.ExpectGet("balance:w-a").SetVal("100")

	_, err := f.ledger.Deposit(ctx, "w-a", decimal.NewFromInt(100), "k", model.EventContext{})
	require.NoError(t, err)

	bal, err := f.ledger.Balance(ctx, "w-a")
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	// Served from cache even though the ledger is now empty.
	require.NoError(t, f.db.Where("1 = 1").Delete(&model.LedgerEntry{}).Error)
	bal, err = f.ledger.Balance(ctx, "w-a")
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Onboarding(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	u, err := f.account.RegisterUser(ctx, "  Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.StatusPendingEmailVerification, u.AccountStatus)

	_, err = f.account.RegisterUser(ctx, "alice@example.com")
	assert.ErrorIs(t, err, repo.ErrEmailTaken)
	_, err = f.account.RegisterUser(ctx, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	verified, err := f.account.VerifyEmail(ctx, u.ID, model.EventContext{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEmailVerified, verified.AccountStatus)

	rows := f.outbox(t)
	require.Len(t, rows, 1)
	assert.Equal(t, events.TopicUserEmailVerified, rows[0].Topic)
	assert.Equal(t, events.UserVerifyEmailSuccess, rows[0].EventType)
	assert.Equal(t, u.ID, rows[0].AggregateID)
	assert.Equal(t, "10.0.0.1", rows[0].Context.Data().IP)
	assert.JSONEq(t, `{"userId":"`+u.ID+`","email":"alice@example.com"}`, string(rows[0].Payload))

	_, err = f.account.VerifyEmail(ctx, u.ID, model.EventContext{})
	var invalid *model.ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
	assert.Len(t, f.outbox(t), 1, "a rejected transition emits nothing")
}

func TestAccountService_PasswordReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u, err := f.account.RegisterUser(ctx, "bob@example.com")
	require.NoError(t, err)

	token, err := f.account.RequestPasswordReset(ctx, u.ID, model.EventContext{})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, token)
	require.NoError(t, f.account.CompletePasswordReset(ctx, u.ID, model.EventContext{}))

	rows := f.outbox(t)
	require.Len(t, rows, 2)
	assert.Equal(t, events.PasswordResetRequested, rows[0].EventType)
	assert.Contains(t, string(rows[0].Payload), token)
	assert.Equal(t, events.PasswordResetCompleted, rows[1].EventType)
	assert.NotContains(t, string(rows[1].Payload), "resetToken")

	_, err = f.account.RequestPasswordReset(ctx, "missing", model.EventContext{})
	assert.ErrorIs(t, err, repo.ErrUserNotFound)
}

func TestAccountService_ChangeStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&model.User{ID: "u-1", Email: "c@example.com", AccountStatus: model.StatusAccountReady}).Error)

	u, err := f.account.ChangeStatus(ctx, "u-1", model.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, u.AccountStatus)

	u, err = f.account.ChangeStatus(ctx, "u-1", model.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspended, u.AccountStatus)

	_, err = f.account.ChangeStatus(ctx, "u-1", model.StatusAccountReady)
	var invalid *model.ErrInvalidTransition
	assert.ErrorIs(t, err, ErrNotOperatorStatus)

	u, err = f.account.ChangeStatus(ctx, "u-1", model.StatusSuspended)
	assert.ErrorAs(t, err, &invalid)
	assert.Nil(t, u)
}

func TestAccountService_ChangeStatusCannotSkipProvisioning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u, err := f.account.RegisterUser(ctx, "skip@example.com")
	require.NoError(t, err)

	for _, to := range []model.AccountStatus{
		model.StatusEmailVerified,
		model.StatusAccountProvisioning,
		model.StatusAccountReady,
		model.StatusPendingEmailVerification,
		"BOGUS",
	} {
		_, err := f.account.ChangeStatus(ctx, u.ID, to)
		assert.ErrorIs(t, err, ErrNotOperatorStatus, to)
	}

	var got model.User
	require.NoError(t, f.db.First(&got, "id = ?", u.ID).Error)
	assert.Equal(t, model.StatusPendingEmailVerification, got.AccountStatus)
	var wallets, outbox int64
	require.NoError(t, f.db.Model(&model.Wallet{}).Count(&wallets).Error)
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Count(&outbox).Error)
	assert.Zero(t, wallets)
	assert.Zero(t, outbox)

	_, err = f.account.ChangeStatus(ctx, u.ID, model.StatusActive)
	var invalid *model.ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}
