package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail means the email has no local part or domain.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrStatusConflict means the user left the expected status concurrently.
	ErrStatusConflict = errors.New("account status changed concurrently")
	// ErrNotOperatorStatus means the target status is reached only through
	// email verification and provisioning, never set directly.
	ErrNotOperatorStatus = errors.New("status is not operator-settable")
)

// operatorStatuses are the targets ChangeStatus may set. Every earlier status
// is owned by VerifyEmail and the provisioning processor.
var operatorStatuses = map[model.AccountStatus]bool{
	model.StatusActive:    true,
	model.StatusSuspended: true,
}

// AccountStore is the persistence AccountService needs.
type AccountStore interface {
	CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error
	GetUser(ctx context.Context, tx *gorm.DB, id string) (*model.User, error)
	TransitionUserStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.AccountStatus) (bool, error)
	Enqueue(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
}

// TxRunner runs fn in a transaction.
type TxRunner interface {
	Run(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AccountService owns user onboarding. Every state change that other services
// react to is written to the outbox in the same transaction.
type AccountService struct {
	store  AccountStore
	runner TxRunner
	log    *zap.SugaredLogger
}

// NewAccountService returns AccountService.
func NewAccountService(store AccountStore, runner TxRunner, logger *zap.SugaredLogger) *AccountService {
	return &AccountService{store: store, runner: runner, log: logger}
}

// RegisterUser creates a user awaiting email verification.
func (s *AccountService) RegisterUser(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return nil, ErrInvalidEmail
	}
	u := &model.User{
		ID:            uuid.NewString(),
		Email:         email,
		AccountStatus: model.StatusPendingEmailVerification,
	}
	err := s.runner.Run(ctx, func(tx *gorm.DB) error {
		return s.store.CreateUser(ctx, tx, u)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("user registered", "user_id", u.ID)
	return u, nil
}

// VerifyEmail marks the user's email verified and emits
// USER_VERIFY_EMAIL_SUCCESS, which starts account provisioning.
func (s *AccountService) VerifyEmail(ctx context.Context, userID string, ec model.EventContext) (*model.User, error) {
	var user *model.User
	err := s.runner.Run(ctx, func(tx *gorm.DB) error {
		u, err := s.transition(ctx, tx, userID, model.StatusEmailVerified)
		if err != nil {
			return err
		}
		evt, err := events.NewOutboxEvent(events.TopicUserEmailVerified, events.UserVerifyEmailSuccess, events.AggregateUser, u.ID,
			events.EmailVerifiedPayload{UserID: u.ID, Email: u.Email},
			events.WithContext(ec),
			events.WithAction("verify-email"),
		)
		if err != nil {
			return err
		}
		if err := s.store.Enqueue(ctx, tx, evt); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("email verified", "user_id", userID)
	return user, nil
}

// RequestPasswordReset emits PASSWORD_RESET_REQUESTED with a fresh token and
// returns the token.
func (s *AccountService) RequestPasswordReset(ctx context.Context, userID string, ec model.EventContext) (string, error) {
	token, err := resetToken()
	if err != nil {
		return "", err
	}
	err = s.emitPasswordEvent(ctx, userID, events.PasswordResetRequested, token, ec)
	if err != nil {
		return "", err
	}
	return token, nil
}

// CompletePasswordReset emits PASSWORD_RESET_COMPLETED once the credential
// store accepted the new password.
func (s *AccountService) CompletePasswordReset(ctx context.Context, userID string, ec model.EventContext) error {
	return s.emitPasswordEvent(ctx, userID, events.PasswordResetCompleted, "", ec)
}

func (s *AccountService) emitPasswordEvent(ctx context.Context, userID, eventType, token string, ec model.EventContext) error {
	return s.runner.Run(ctx, func(tx *gorm.DB) error {
		u, err := s.store.GetUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		evt, err := events.NewOutboxEvent(events.TopicPasswordReset, eventType, events.AggregateUser, u.ID,
			events.PasswordResetPayload{UserID: u.ID, Email: u.Email, ResetToken: token},
			events.WithContext(ec),
		)
		if err != nil {
			return err
		}
		return s.store.Enqueue(ctx, tx, evt)
	})
}

// ChangeStatus applies an operator transition: ACCOUNT_READY -> ACTIVE or
// ACTIVE <-> SUSPENDED.
func (s *AccountService) ChangeStatus(ctx context.Context, userID string, to model.AccountStatus) (*model.User, error) {
	if !operatorStatuses[to] {
		return nil, fmt.Errorf("%w: %s", ErrNotOperatorStatus, to)
	}
	var user *model.User
	err := s.runner.Run(ctx, func(tx *gorm.DB) error {
		u, err := s.transition(ctx, tx, userID, to)
		user = u
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("account status changed", "user_id", userID, "status", to)
	return user, nil
}

func (s *AccountService) transition(ctx context.Context, tx *gorm.DB, userID string, to model.AccountStatus) (*model.User, error) {
	u, err := s.store.GetUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionUserStatus(ctx, tx, userID, u.AccountStatus, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrStatusConflict, userID)
	}
	u.AccountStatus = to
	return u, nil
}

func resetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
