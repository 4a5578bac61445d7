package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/richardliu001/wallet-events/internal/eventerr"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/jobs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetProcessor_QueuesResetEmail(t *testing.T) {
	q := &fakeQueue{}
	p := NewPasswordResetProcessor(q)
	env := newEnvelope(t, events.TopicPasswordReset, events.PasswordResetRequested, 1,
		events.PasswordResetPayload{UserID: "u-1", Email: "u-1@example.com", ResetToken: "abc123"})

	require.NoError(t, p.Process(context.Background(), nil, env))
	require.NoError(t, p.Process(context.Background(), nil, env))

	queued := q.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, jobs.TemplatePasswordReset, queued[0].Template)
	assert.Equal(t, env.Event.EventID+":"+jobs.TemplatePasswordReset, queued[0].ID)
	assert.Equal(t, "abc123", queued[0].Data["resetToken"])
}

func TestPasswordResetProcessor_QueuesChangedEmail(t *testing.T) {
	q := &fakeQueue{}
	p := NewPasswordResetProcessor(q)
	env := newEnvelope(t, events.TopicPasswordReset, events.PasswordResetCompleted, 1,
		events.PasswordResetPayload{UserID: "u-1", Email: "u-1@example.com"})

	require.NoError(t, p.Process(context.Background(), nil, env))
	queued := q.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, jobs.TemplatePasswordChanged, queued[0].Template)
	assert.NotContains(t, queued[0].Data, "resetToken")
}

func TestPasswordResetProcessor_Rejects(t *testing.T) {
	valid := events.PasswordResetPayload{UserID: "u-1", Email: "u-1@example.com", ResetToken: "t"}
	cases := map[string]Envelope{
		"wrong topic":     newEnvelope(t, events.TopicDepositCompleted, events.PasswordResetRequested, 1, valid),
		"version":         newEnvelope(t, events.TopicPasswordReset, events.PasswordResetRequested, 3, valid),
		"unknown type":    newEnvelope(t, events.TopicPasswordReset, "PASSWORD_EXPIRED", 1, valid),
		"missing token":   newEnvelope(t, events.TopicPasswordReset, events.PasswordResetRequested, 1, events.PasswordResetPayload{UserID: "u-1", Email: "e"}),
		"missing payload": newEnvelope(t, events.TopicPasswordReset, events.PasswordResetRequested, 1, nil),
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			q := &fakeQueue{}
			err := NewPasswordResetProcessor(q).Process(context.Background(), nil, env)
			assert.True(t, eventerr.IsPermanent(err), "got %v", err)
			assert.Empty(t, q.queued())
		})
	}
}

func TestTransferProcessor_NotifiesBothParties(t *testing.T) {
	q := &fakeQueue{}
	p := NewTransferProcessor(q)
	env := newEnvelope(t, events.TopicTransferCompleted, events.TransferCompleted, 1, events.TransferPayload{
		TransactionID: "tx-1",
		FromWalletID:  "w-1",
		ToWalletID:    "w-2",
		FromEmail:     "alice@example.com",
		ToEmail:       "bob@example.com",
		Amount:        decimal.RequireFromString("12.50"),
		Currency:      "USD",
	})

	require.NoError(t, p.Process(context.Background(), nil, env))

	queued := q.queued()
	require.Len(t, queued, 2)
	assert.Equal(t, jobs.TemplateTransferSent, queued[0].Template)
	assert.Equal(t, "alice@example.com", queued[0].To)
	assert.Equal(t, jobs.TemplateTransferReceived, queued[1].Template)
	assert.Equal(t, "bob@example.com", queued[1].To)
	assert.Equal(t, "12.5", queued[1].Data["amount"])
}

func TestTransferProcessor_NotifiesDeposit(t *testing.T) {
	q := &fakeQueue{}
	env := newEnvelope(t, events.TopicDepositCompleted, events.DepositCompleted, 1, events.DepositPayload{
		TransactionID: "tx-2",
		WalletID:      "w-1",
		Email:         "alice@example.com",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
	})

	require.NoError(t, NewTransferProcessor(q).Process(context.Background(), nil, env))
	queued := q.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, jobs.TemplateDepositReceived, queued[0].Template)
	assert.Equal(t, "w-1", queued[0].Data["walletId"])
}

func TestTransferProcessor_NotifiesWithdrawal(t *testing.T) {
	q := &fakeQueue{}
	env := newEnvelope(t, events.TopicWithdrawalCompleted, events.WithdrawalCompleted, 1, events.WithdrawalPayload{
		TransactionID: "tx-3",
		WalletID:      "w-1",
		Email:         "alice@example.com",
		Amount:        decimal.NewFromInt(40),
		Currency:      "USD",
	})

	p := NewTransferProcessor(q)
	require.NoError(t, p.Process(context.Background(), nil, env))
	require.NoError(t, p.Process(context.Background(), nil, env))
	queued := q.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, jobs.TemplateWithdrawalSent, queued[0].Template)
	assert.Equal(t, "alice@example.com", queued[0].To)
	assert.Equal(t, "40", queued[0].Data["amount"])
}

func TestTransferProcessor_Rejects(t *testing.T) {
	cases := map[string]Envelope{
		"wrong topic":    newEnvelope(t, events.TopicPasswordReset, events.TransferCompleted, 1, map[string]string{}),
		"version":        newEnvelope(t, events.TopicTransferCompleted, events.TransferCompleted, 0, map[string]string{}),
		"unknown type":   newEnvelope(t, events.TopicTransferCompleted, "TRANSFER_REVERSED", 1, map[string]string{}),
		"invalid amount": newEnvelope(t, events.TopicDepositCompleted, events.DepositCompleted, 1, map[string]interface{}{"transactionId": "t", "walletId": "w", "email": "e", "amount": "-1", "currency": "USD"}),
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			q := &fakeQueue{}
			err := NewTransferProcessor(q).Process(context.Background(), nil, env)
			assert.True(t, eventerr.IsPermanent(err), "got %v", err)
			assert.Empty(t, q.queued())
		})
	}
}

func TestTransferProcessor_QueueFailureIsTransient(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis: connection pool timeout")}
	env := newEnvelope(t, events.TopicDepositCompleted, events.DepositCompleted, 1, events.DepositPayload{
		TransactionID: "tx-3", WalletID: "w-1", Email: "a@example.com", Amount: decimal.NewFromInt(1), Currency: "USD",
	})
	err := NewTransferProcessor(q).Process(context.Background(), nil, env)
	require.Error(t, err)
	assert.True(t, eventerr.IsTransient(err))
}
