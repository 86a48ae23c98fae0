package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	"github.com/cvforge/creditengine/internal/metrics"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Synchronizer struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	adapter paymentdomain.ProviderAdapter

	eventRepo paymentdomain.EventRepository
	subRepo   subscriptiondomain.Repository
	planRepo  plandomain.Repository
	userRepo  userdomain.Repository
	ledger    ledgerdomain.Service
	metrics   *metrics.Metrics

	defaultModel string
}

type SynchronizerParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Adapter   paymentdomain.ProviderAdapter
	EventRepo paymentdomain.EventRepository
	SubRepo   subscriptiondomain.Repository
	PlanRepo  plandomain.Repository
	UserRepo  userdomain.Repository
	Ledger    ledgerdomain.Service
	Cfg       config.Config
	Metrics   *metrics.Metrics `optional:"true"`
}

func NewSynchronizer(p SynchronizerParam) paymentdomain.Synchronizer {
	return &Synchronizer{
		db:  p.DB,
		log: p.Log.Named("payment.sync"),

		genID:   p.GenID,
		clock:   p.Clock,
		adapter: p.Adapter,

		eventRepo: p.EventRepo,
		subRepo:   p.SubRepo,
		planRepo:  p.PlanRepo,
		userRepo:  p.UserRepo,
		ledger:    p.Ledger,
		metrics:   p.Metrics,

		defaultModel: p.Cfg.DefaultAIModel,
	}
}

func (s *Synchronizer) IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (paymentdomain.Outcome, error) {
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}
	if err := s.adapter.Verify(ctx, payload, signatureHeader); err != nil {
		return "", err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		return "", err
	}

	outcome, err := s.ProcessEvent(ctx, event)
	if err != nil {
		s.log.Error("webhook processing failed",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return "", err
	}

	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(event.Provider, string(outcome)).Inc()
	}
	s.log.Info("webhook event processed",
		zap.String("provider", event.Provider),
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", string(event.Type)),
		zap.String("outcome", string(outcome)))
	return outcome, nil
}

// ProcessEvent applies one canonical event in a single transaction: the
// idempotency record, any subscription mutation, the user mode switch, and
// any ledger grant either all commit or all roll back.
func (s *Synchronizer) ProcessEvent(ctx context.Context, event *paymentdomain.ProviderEvent) (paymentdomain.Outcome, error) {
	if event == nil || event.ProviderEventID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}

	outcome := paymentdomain.OutcomeApplied
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now(ctx)

		record := &paymentdomain.EventRecord{
			ID:              s.genID.Generate(),
			Provider:        event.Provider,
			ProviderEventID: event.ProviderEventID,
			EventType:       event.Type,
			Payload:         datatypes.JSON(event.RawPayload),
			ReceivedAt:      now,
		}
		inserted, err := s.eventRepo.InsertEventRecord(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = paymentdomain.OutcomeDuplicate
			return nil
		}

		switch event.Type {
		case paymentdomain.EventTypeCheckoutCompleted:
			err = s.applyCheckoutCompleted(ctx, tx, event)
		case paymentdomain.EventTypeSubscriptionCreated:
			outcome, err = s.applySubscriptionCreated(ctx, tx, event, now)
		case paymentdomain.EventTypeSubscriptionUpdated:
			outcome, err = s.applySubscriptionUpdated(ctx, tx, event, now)
		case paymentdomain.EventTypeSubscriptionDeleted:
			outcome, err = s.applySubscriptionDeleted(ctx, tx, event, now)
		default:
			err = fmt.Errorf("%w: %s", paymentdomain.ErrInvalidEvent, event.Type)
		}
		if err != nil {
			return err
		}

		return s.eventRepo.MarkProcessed(ctx, tx, record.ID, s.clock.Now(ctx))
	})
	if err != nil {
		return "", err
	}

	if outcome == paymentdomain.OutcomeStale && s.metrics != nil {
		s.metrics.StaleEventsDrops.Inc()
	}
	return outcome, nil
}

func (s *Synchronizer) applyCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *paymentdomain.ProviderEvent) error {
	checkout := event.Checkout
	if checkout == nil {
		return paymentdomain.ErrInvalidEvent
	}

	plan, err := s.planRepo.FindByExternalPriceID(ctx, tx, checkout.ExternalPriceID)
	if err != nil {
		return err
	}
	if plan == nil || plan.Type != plandomain.PlanTypeCredits || plan.Credits <= 0 {
		return fmt.Errorf("%w: price %s", paymentdomain.ErrUnknownPlan, checkout.ExternalPriceID)
	}

	reason := fmt.Sprintf("purchase: %s", plan.Name)
	_, err = s.ledger.WithTx(tx).Grant(ctx, checkout.UserID, plan.Credits,
		ledgerdomain.TransactionTypePurchase, reason, event.ProviderEventID)
	return err
}

func (s *Synchronizer) applySubscriptionCreated(ctx context.Context, tx *gorm.DB, event *paymentdomain.ProviderEvent, now time.Time) (paymentdomain.Outcome, error) {
	change := event.Subscription
	if change == nil {
		return "", paymentdomain.ErrInvalidEvent
	}

	existing, err := s.subRepo.FindByExternalID(ctx, tx, change.ExternalSubscriptionID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		// A re-sent "created" with a fresh event id behaves like an update.
		return s.applyChangeToExisting(ctx, tx, existing, change, event.OccurredAt, now)
	}

	plan, err := s.planRepo.FindByExternalPriceID(ctx, tx, change.ExternalPriceID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "", fmt.Errorf("%w: price %s", paymentdomain.ErrUnknownPlan, change.ExternalPriceID)
	}

	sub := &subscriptiondomain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 change.UserID,
		PlanID:                 plan.ID,
		ExternalSubscriptionID: change.ExternalSubscriptionID,
		Status:                 change.Status,
		CurrentPeriodStart:     change.CurrentPeriodStart,
		CurrentPeriodEnd:       change.CurrentPeriodEnd,
		CancelAtPeriodEnd:      change.CancelAtPeriodEnd,
		TrialStart:             change.TrialStart,
		TrialEnd:               change.TrialEnd,
		CanceledAt:             change.CanceledAt,
		ProviderUpdatedAt:      event.OccurredAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.subRepo.Insert(ctx, tx, sub); err != nil {
		return "", err
	}

	if err := s.userRepo.UpdateAIConfigMode(ctx, tx, change.UserID, userdomain.AIConfigModeSubscription, s.defaultModel); err != nil {
		return "", err
	}

	return paymentdomain.OutcomeApplied, nil
}

func (s *Synchronizer) applySubscriptionUpdated(ctx context.Context, tx *gorm.DB, event *paymentdomain.ProviderEvent, now time.Time) (paymentdomain.Outcome, error) {
	change := event.Subscription
	if change == nil {
		return "", paymentdomain.ErrInvalidEvent
	}

	existing, err := s.subRepo.FindByExternalID(ctx, tx, change.ExternalSubscriptionID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		// Update delivered before the created event: treat it as creation
		// so the later, older created event lands on the stale guard.
		return s.applySubscriptionCreated(ctx, tx, event, now)
	}

	return s.applyChangeToExisting(ctx, tx, existing, change, event.OccurredAt, now)
}

func (s *Synchronizer) applySubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *paymentdomain.ProviderEvent, now time.Time) (paymentdomain.Outcome, error) {
	change := event.Subscription
	if change == nil {
		return "", paymentdomain.ErrInvalidEvent
	}

	existing, err := s.subRepo.FindByExternalID(ctx, tx, change.ExternalSubscriptionID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		// Nothing to cancel yet; drop the event. The created/updated event
		// that eventually arrives carries its own status.
		return paymentdomain.OutcomeStale, nil
	}

	if event.OccurredAt.Before(existing.ProviderUpdatedAt) {
		return paymentdomain.OutcomeStale, nil
	}

	canceledAt := change.CanceledAt
	if canceledAt == nil {
		canceledAt = &now
	}
	existing.Status = subscriptiondomain.SubscriptionStatusCanceled
	existing.CanceledAt = canceledAt
	existing.ProviderUpdatedAt = event.OccurredAt
	existing.UpdatedAt = now

	if err := s.subRepo.Update(ctx, tx, existing); err != nil {
		return "", err
	}
	return paymentdomain.OutcomeApplied, nil
}

// applyChangeToExisting enforces the ordering policy: provider timestamps
// older than the stored state are discarded, and canceled is terminal, so a
// late-arriving update can never resurrect a dead subscription.
func (s *Synchronizer) applyChangeToExisting(ctx context.Context, tx *gorm.DB, existing *subscriptiondomain.Subscription, change *paymentdomain.SubscriptionChange, occurredAt, now time.Time) (paymentdomain.Outcome, error) {
	if occurredAt.Before(existing.ProviderUpdatedAt) {
		return paymentdomain.OutcomeStale, nil
	}
	if existing.Status.Terminal() && change.Status != subscriptiondomain.SubscriptionStatusCanceled {
		return paymentdomain.OutcomeStale, nil
	}

	existing.Status = change.Status
	existing.CurrentPeriodStart = change.CurrentPeriodStart
	existing.CurrentPeriodEnd = change.CurrentPeriodEnd
	existing.CancelAtPeriodEnd = change.CancelAtPeriodEnd
	existing.TrialStart = change.TrialStart
	existing.TrialEnd = change.TrialEnd
	existing.CanceledAt = change.CanceledAt
	existing.ProviderUpdatedAt = occurredAt
	existing.UpdatedAt = now

	if err := s.subRepo.Update(ctx, tx, existing); err != nil {
		return "", err
	}

	if change.Status.Grants() {
		if err := s.userRepo.UpdateAIConfigMode(ctx, tx, existing.UserID, userdomain.AIConfigModeSubscription, ""); err != nil {
			return "", err
		}
	}

	return paymentdomain.OutcomeApplied, nil
}
