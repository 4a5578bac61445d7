// Package txn runs a unit of work inside a gorm transaction with bounded
// retries for transient transaction failures and for ambiguous commits.
package txn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/wallet-events/internal/eventerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Options bounds the retry behaviour of a Runner.
type Options struct {
	// MaxAttempts caps how many times the body runs when the transaction
	// reports a transient failure.
	MaxAttempts int
	// MaxCommitRetries caps how many extra times only the commit is retried
	// when its outcome is unknown.
	MaxCommitRetries int
	// InitialBackoff is the first delay between attempts.
	InitialBackoff time.Duration
}

// DefaultOptions returns three body attempts and three commit retries.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, MaxCommitRetries: 3, InitialBackoff: 50 * time.Millisecond}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.MaxCommitRetries < 0 {
		o.MaxCommitRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
}

// Committer is the slice of a transaction handle the runner needs. It lets
// tests stand in for a driver that loses the connection during COMMIT.
type Committer interface {
	Commit() error
	Rollback() error
}

type gormTx struct{ tx *gorm.DB }

func (g gormTx) Commit() error   { return g.tx.Commit().Error }
func (g gormTx) Rollback() error { return g.tx.Rollback().Error }

// Runner executes functions in transactions.
type Runner struct {
	db   *gorm.DB
	opts Options
	log  *zap.SugaredLogger

	// wrap builds the Committer for a begun transaction.
	wrap func(*gorm.DB) Committer
}

// NewRunner returns a Runner over db.
func NewRunner(db *gorm.DB, opts Options, logger *zap.SugaredLogger) *Runner {
	opts.normalize()
	return &Runner{
		db:   db,
		opts: opts,
		log:  logger,
		wrap: func(tx *gorm.DB) Committer { return gormTx{tx: tx} },
	}
}

// Run begins a transaction, calls fn with it and commits. When the body fails
// with a transient transaction error (serialization failure, deadlock) the
// whole body is retried up to MaxAttempts. When COMMIT itself fails with an
// unknown outcome only the commit is retried, since the body already ran. Any
// other error rolls back and is returned unchanged.
func (r *Runner) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	b := backoff.WithContext(r.newBackOff(), ctx)
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransientTxError(err) || attempt == r.opts.MaxAttempts {
			break
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		r.log.Warnw("transaction conflict, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return eventerr.Transient("transaction retry cancelled", ctx.Err())
		case <-time.After(wait):
		}
	}
	if IsTransientTxError(lastErr) {
		return eventerr.Transient("transaction retries exhausted", lastErr)
	}
	return lastErr
}

func (r *Runner) runOnce(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return eventerr.Transient("begin transaction", tx.Error)
	}
	c := r.wrap(tx)

	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = c.Rollback()
			panic(p)
		}
		if !committed {
			if rbErr := c.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.log.Warnw("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = r.commit(ctx, c); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *Runner) commit(ctx context.Context, c Committer) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.opts.MaxCommitRetries)), ctx)
	ambiguous := false
	for {
		err := c.Commit()
		if err == nil {
			return nil
		}
		if ambiguous && errors.Is(err, sql.ErrTxDone) {
			// The previous attempt reached the server; whether it applied is unknown.
			return eventerr.Transient("commit outcome unknown", err)
		}
		if !IsUnknownCommitResult(err) {
			return err
		}
		ambiguous = true
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return eventerr.Transient("commit outcome unknown", err)
		}
		r.log.Warnw("commit outcome unknown, retrying commit", "error", err)
		select {
		case <-ctx.Done():
			return eventerr.Transient("commit outcome unknown", err)
		case <-time.After(wait):
		}
	}
}

func (r *Runner) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialBackoff
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0
	return eb
}

// IsTransientTxError reports whether the whole transaction may be retried.
func IsTransientTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// IsUnknownCommitResult reports whether a commit failed in a way that leaves
// its outcome unknown (the connection dropped mid-flight).
func IsUnknownCommitResult(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err)
}
