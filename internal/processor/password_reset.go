package processor

import (
	"context"

	"github.com/richardliu001/wallet-events/internal/eventerr"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/jobs"
	"gorm.io/gorm"
)

// PasswordResetProcessor queues the reset and confirmation emails.
type PasswordResetProcessor struct {
	jobs jobs.Queue
}

func NewPasswordResetProcessor(q jobs.Queue) *PasswordResetProcessor {
	return &PasswordResetProcessor{jobs: q}
}

func (p *PasswordResetProcessor) Process(ctx context.Context, _ *gorm.DB, env Envelope) error {
	if err := CheckTopic(env, authTopicPrefix); err != nil {
		return err
	}
	if err := CheckVersion(env, 1); err != nil {
		return err
	}

	var template string
	switch env.Event.EventType {
	case events.PasswordResetRequested:
		template = jobs.TemplatePasswordReset
	case events.PasswordResetCompleted:
		template = jobs.TemplatePasswordChanged
	default:
		return unknownEventType(env)
	}

	var pl events.PasswordResetPayload
	if err := decodePayload(env.Event.Payload, &pl); err != nil {
		return err
	}
	data := map[string]string{"userId": pl.UserID}
	if template == jobs.TemplatePasswordReset {
		if pl.ResetToken == "" {
			return eventerr.Permanentf("invalid payload: resetToken is required")
		}
		data["resetToken"] = pl.ResetToken
	}
	return p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
		ID:       env.Event.EventID + ":" + template,
		Template: template,
		To:       pl.Email,
		Data:     data,
	})
}
