package processor

import (
	"context"

	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/jobs"
	"gorm.io/gorm"
)

const transferTopicPrefix = "transfer."

// TransferProcessor notifies the parties of completed transfers, deposits
// and withdrawals.
type TransferProcessor struct {
	jobs jobs.Queue
}

func NewTransferProcessor(q jobs.Queue) *TransferProcessor {
	return &TransferProcessor{jobs: q}
}

func (p *TransferProcessor) Process(ctx context.Context, _ *gorm.DB, env Envelope) error {
	if err := CheckTopic(env, transferTopicPrefix); err != nil {
		return err
	}
	if err := CheckVersion(env, 1); err != nil {
		return err
	}

	switch env.Event.EventType {
	case events.TransferCompleted:
		var pl events.TransferPayload
		if err := decodePayload(env.Event.Payload, &pl); err != nil {
			return err
		}
		data := map[string]string{
			"transactionId": pl.TransactionID,
			"amount":        pl.Amount.String(),
			"currency":      pl.Currency,
		}
		if err := p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
			ID:       env.Event.EventID + ":" + jobs.TemplateTransferSent,
			Template: jobs.TemplateTransferSent,
			To:       pl.FromEmail,
			Data:     data,
		}); err != nil {
			return err
		}
		return p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
			ID:       env.Event.EventID + ":" + jobs.TemplateTransferReceived,
			Template: jobs.TemplateTransferReceived,
			To:       pl.ToEmail,
			Data:     data,
		})
	case events.DepositCompleted:
		var pl events.DepositPayload
		if err := decodePayload(env.Event.Payload, &pl); err != nil {
			return err
		}
		return p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
			ID:       env.Event.EventID + ":" + jobs.TemplateDepositReceived,
			Template: jobs.TemplateDepositReceived,
			To:       pl.Email,
			Data: map[string]string{
				"transactionId": pl.TransactionID,
				"walletId":      pl.WalletID,
				"amount":        pl.Amount.String(),
				"currency":      pl.Currency,
			},
		})
	case events.WithdrawalCompleted:
		var pl events.WithdrawalPayload
		if err := decodePayload(env.Event.Payload, &pl); err != nil {
			return err
		}
		return p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
			ID:       env.Event.EventID + ":" + jobs.TemplateWithdrawalSent,
			Template: jobs.TemplateWithdrawalSent,
			To:       pl.Email,
			Data: map[string]string{
				"transactionId": pl.TransactionID,
				"walletId":      pl.WalletID,
				"amount":        pl.Amount.String(),
				"currency":      pl.Currency,
			},
		})
	default:
		return unknownEventType(env)
	}
}
