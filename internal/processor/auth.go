package processor

import (
	"context"
	"errors"

	"github.com/richardliu001/wallet-events/internal/eventerr"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/jobs"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	authTopicPrefix = "auth."
	// accountNumberAttempts bounds regeneration on account number collisions.
	accountNumberAttempts = 3
)

// AccountStore is the persistence used by account provisioning.
type AccountStore interface {
	GetUser(ctx context.Context, tx *gorm.DB, id string) (*model.User, error)
	TransitionUserStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.AccountStatus) (bool, error)
	EnsureWallet(ctx context.Context, tx *gorm.DB, userID string, t model.WalletType) (*model.Wallet, error)
	EnsureLedgerAccount(ctx context.Context, tx *gorm.DB, w *model.Wallet, currency string) (*model.LedgerAccount, error)
	FindAccount(ctx context.Context, tx *gorm.DB, ledgerAccountID string) (*model.Account, error)
	CreateAccount(ctx context.Context, tx *gorm.DB, acc *model.Account) (*model.Account, error)
	Enqueue(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
}

type walletPlan struct {
	walletType model.WalletType
	public     bool
}

// Every user gets a public checking wallet and a private savings wallet.
var provisioningPlan = []walletPlan{
	{walletType: model.WalletMainCheckings, public: true},
	{walletType: model.WalletSavings, public: false},
}

// AuthProcessor provisions wallets, ledger accounts and public accounts once
// a user's email is verified.
type AuthProcessor struct {
	store AccountStore
	jobs  jobs.Queue
	gen   AccountNumberGenerator
	log   *zap.SugaredLogger
}

// NewAuthProcessor returns an AuthProcessor. A nil gen uses RandomAccountNumber.
func NewAuthProcessor(store AccountStore, q jobs.Queue, gen AccountNumberGenerator, logger *zap.SugaredLogger) *AuthProcessor {
	if gen == nil {
		gen = RandomAccountNumber
	}
	return &AuthProcessor{store: store, jobs: q, gen: gen, log: logger}
}

func (p *AuthProcessor) Process(ctx context.Context, tx *gorm.DB, env Envelope) error {
	if err := CheckTopic(env, authTopicPrefix); err != nil {
		return err
	}
	if err := CheckVersion(env, 1); err != nil {
		return err
	}
	switch env.Event.EventType {
	case events.UserVerifyEmailSuccess:
		var pl events.EmailVerifiedPayload
		if err := decodePayload(env.Event.Payload, &pl); err != nil {
			return err
		}
		return eventerr.Wrap(p.provision(ctx, tx, env, pl))
	default:
		return unknownEventType(env)
	}
}

// provision walks the user EMAIL_VERIFIED -> ACCOUNT_PROVISIONING ->
// ACCOUNT_READY. Every step is guarded so a redelivered event that reruns the
// saga from the top cannot duplicate wallets, ledger accounts or accounts.
func (p *AuthProcessor) provision(ctx context.Context, tx *gorm.DB, env Envelope, pl events.EmailVerifiedPayload) error {
	user, err := p.store.GetUser(ctx, tx, pl.UserID)
	if errors.Is(err, repo.ErrUserNotFound) {
		return eventerr.Permanentf("user %s not found", pl.UserID)
	}
	if err != nil {
		return err
	}
	if user.AccountStatus == model.StatusAccountReady {
		p.log.Infow("user already provisioned, skipping", "event_id", env.Event.EventID, "user_id", user.ID)
		return nil
	}
	if user.AccountStatus != model.StatusEmailVerified {
		return eventerr.Permanentf("user %s not eligible for provisioning in status %s", user.ID, user.AccountStatus)
	}

	if err := p.transition(ctx, tx, user.ID, model.StatusEmailVerified, model.StatusAccountProvisioning); err != nil {
		return err
	}

	refs := make([]events.AccountRef, 0, len(provisioningPlan))
	for _, plan := range provisioningPlan {
		w, err := p.store.EnsureWallet(ctx, tx, user.ID, plan.walletType)
		if err != nil {
			return err
		}
		la, err := p.store.EnsureLedgerAccount(ctx, tx, w, model.DefaultCurrency)
		if err != nil {
			return err
		}
		acc, err := p.ensureAccount(ctx, tx, user.ID, la.ID, plan.public)
		if err != nil {
			return err
		}
		refs = append(refs, events.AccountRef{
			WalletID:      w.ID,
			WalletType:    string(w.Type),
			AccountNumber: acc.AccountNumber,
			IsPublic:      acc.IsPublic,
		})
	}

	if err := p.transition(ctx, tx, user.ID, model.StatusAccountProvisioning, model.StatusAccountReady); err != nil {
		return err
	}

	ready, err := events.NewOutboxEvent(events.TopicAccountReady, events.UserAccountReady, events.AggregateUser, user.ID,
		events.AccountReadyPayload{UserID: user.ID, Email: user.Email, Accounts: refs},
		events.WithEventID(events.DeriveID(env.Event.EventID, "account-ready")),
		events.WithAction("provisioned"),
	)
	if err != nil {
		return eventerr.Permanent("build account ready event", err)
	}
	if err := p.store.Enqueue(ctx, tx, ready); err != nil {
		return err
	}
	if err := p.jobs.EnqueueEmail(ctx, jobs.EmailJob{
		ID:       env.Event.EventID + ":" + jobs.TemplateWelcome,
		Template: jobs.TemplateWelcome,
		To:       user.Email,
		Data:     map[string]string{"userId": user.ID},
	}); err != nil {
		return err
	}

	p.log.Infow("user accounts provisioned", "event_id", env.Event.EventID, "user_id", user.ID)
	return nil
}

func (p *AuthProcessor) transition(ctx context.Context, tx *gorm.DB, userID string, from, to model.AccountStatus) error {
	ok, err := p.store.TransitionUserStatus(ctx, tx, userID, from, to)
	if err != nil {
		var invalid *model.ErrInvalidTransition
		if errors.As(err, &invalid) {
			return eventerr.Permanent("account status", err)
		}
		return err
	}
	if !ok {
		return eventerr.Permanentf("conflict: user %s left status %s concurrently", userID, from)
	}
	return nil
}

func (p *AuthProcessor) ensureAccount(ctx context.Context, tx *gorm.DB, userID, ledgerAccountID string, public bool) (*model.Account, error) {
	existing, err := p.store.FindAccount(ctx, tx, ledgerAccountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	for i := 0; i < accountNumberAttempts; i++ {
		number, err := p.gen()
		if err != nil || number == "" {
			return nil, eventerr.Permanent("failed to generate account number", err)
		}
		acc, err := p.store.CreateAccount(ctx, tx, &model.Account{
			UserID:          userID,
			LedgerAccountID: ledgerAccountID,
			AccountNumber:   number,
			IsPublic:        public,
		})
		if errors.Is(err, repo.ErrAccountNumberTaken) {
			continue
		}
		return acc, err
	}
	return nil, eventerr.Transient("account number collisions", repo.ErrAccountNumberTaken)
}
