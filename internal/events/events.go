// Package events defines the topics, event types and payload schemas that
// flow through the outbox, and builds outbox rows from them.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-events/internal/model"
	"gorm.io/datatypes"
)

// Topics.
const (
	TopicUserEmailVerified   = "auth.user.email_verified"
	TopicPasswordReset       = "auth.password.reset"
	TopicAccountReady        = "user.account.ready"
	TopicTransferCompleted   = "transfer.completed"
	TopicDepositCompleted    = "transfer.deposit"
	TopicWithdrawalCompleted = "transfer.withdrawal"
)

// Event types.
const (
	UserVerifyEmailSuccess = "USER_VERIFY_EMAIL_SUCCESS"
	UserAccountReady       = "USER_ACCOUNT_READY"
	PasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	PasswordResetCompleted = "PASSWORD_RESET_COMPLETED"
	TransferCompleted      = "TRANSFER_COMPLETED"
	DepositCompleted       = "DEPOSIT_COMPLETED"
	WithdrawalCompleted    = "WITHDRAWAL_COMPLETED"
)

// Aggregate types.
const (
	AggregateUser   = "User"
	AggregateWallet = "Wallet"
)

// CurrentVersion is the only payload schema version producers emit.
const CurrentVersion = 1

// idNamespace scopes derived event ids.
var idNamespace = uuid.MustParse("6f1c2a52-6a55-4a3c-9d0a-6b0e7c1f5a10")

// DeriveID returns a stable event id for a fact derived from parent. Producing
// the same fact twice yields the same id, which the outbox dedupes.
func DeriveID(parent, fact string) string {
	return uuid.NewSHA1(idNamespace, []byte(parent+":"+fact)).String()
}

// Option customises an outbox row.
type Option func(*model.OutboxEvent)

// WithEventID overrides the generated event id.
func WithEventID(id string) Option {
	return func(e *model.OutboxEvent) { e.EventID = id }
}

// WithContext attaches request metadata.
func WithContext(c model.EventContext) Option {
	return func(e *model.OutboxEvent) { e.Context = datatypes.NewJSONType(c) }
}

// WithAction sets the free-form action label.
func WithAction(action string) Option {
	return func(e *model.OutboxEvent) { e.Action = action }
}

// NewOutboxEvent builds a PENDING outbox row carrying payload.
func NewOutboxEvent(topic, eventType, aggregateType, aggregateID string, payload interface{}, opts ...Option) (*model.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	evt := &model.OutboxEvent{
		EventID:       uuid.NewString(),
		Topic:         topic,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Status:        model.OutboxPending,
		Payload:       datatypes.JSON(raw),
		Version:       CurrentVersion,
		Context:       datatypes.NewJSONType(model.EventContext{}),
	}
	for _, opt := range opts {
		opt(evt)
	}
	return evt, nil
}
