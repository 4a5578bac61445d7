package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds is returned when wallet balance is not enough.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOptimisticLock is returned when a wallet row changed since it was read.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
	// ErrUserNotFound is returned when no user has the given id.
	ErrUserNotFound = errors.New("user not found")
	// ErrWalletNotFound is returned when no wallet has the given id.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAccountNumberTaken is returned when a generated account number collides.
	ErrAccountNumberTaken = errors.New("account number already in use")
	// ErrNotRequeueable is returned when requeueing an outbox row that is not FAILED.
	ErrNotRequeueable = errors.New("outbox event is not in FAILED state")
	// ErrClaimLost is returned when an outbox row is no longer held under the
	// caller's claim, because it went stale and another relay took it.
	ErrClaimLost = errors.New("outbox claim lost")
)

const pgUniqueViolation = "23505"

const balanceCacheTTL = 5 * time.Minute

// Repository is the gorm/Redis backed store shared by services, the relay and
// the event processors. Methods taking a tx run inside the caller's transaction.
type Repository struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
	now func() time.Time
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// IsDuplicateKey reports whether err is a unique-constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func balanceKey(walletID string) string { return fmt.Sprintf("balance:%s", walletID) }

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, balanceKey(walletID), bal.String(), balanceCacheTTL).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.Get(ctx, balanceKey(walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// InvalidateBalance drops the cached balance after a posting.
func (r *Repository) InvalidateBalance(ctx context.Context, walletID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(walletID)).Err()
}
