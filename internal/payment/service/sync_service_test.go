package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	ledgerservice "github.com/cvforge/creditengine/internal/ledger/service"
	"github.com/cvforge/creditengine/internal/payment/adapters/stripe"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	paymentrepository "github.com/cvforge/creditengine/internal/payment/repository"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	planrepository "github.com/cvforge/creditengine/internal/plan/repository"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	subscriptionrepository "github.com/cvforge/creditengine/internal/subscription/repository"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	userrepository "github.com/cvforge/creditengine/internal/user/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type syncFixture struct {
	db     *gorm.DB
	sync   *Synchronizer
	ledger ledgerdomain.Service
	node   *snowflake.Node

	user snowflake.ID
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&plandomain.SubscriptionPlan{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.EventRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{DefaultAIModel: "gpt-4o-mini"}

	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Cfg:   cfg,
	})

	sync := NewSynchronizer(SynchronizerParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.SystemClock{},
		Adapter:   stripe.NewAdapter("whsec_test", ""),
		EventRepo: paymentrepository.Provide(),
		SubRepo:   subscriptionrepository.Provide(),
		PlanRepo:  planrepository.Provide(),
		UserRepo:  userrepository.Provide(),
		Ledger:    ledgerSvc,
		Cfg:       cfg,
	}).(*Synchronizer)

	fixture := &syncFixture{
		db:     db,
		sync:   sync,
		ledger: ledgerSvc,
		node:   node,
		user:   node.Generate(),
	}

	now := time.Now().UTC()
	require.NoError(t, db.Create(&userdomain.User{
		ID:           fixture.user,
		Email:        "ada@example.com",
		AIConfigMode: userdomain.AIConfigModeCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)

	return fixture
}

func (f *syncFixture) createPlan(t *testing.T, planType plandomain.PlanType, priceID string, credits int64) *plandomain.SubscriptionPlan {
	t.Helper()
	now := time.Now().UTC()
	plan := &plandomain.SubscriptionPlan{
		ID:              f.node.Generate(),
		Name:            priceID,
		Type:            planType,
		PriceCents:      500,
		Currency:        "USD",
		ExternalPriceID: priceID,
		Credits:         credits,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, f.db.Create(plan).Error)
	return plan
}

func (f *syncFixture) subscriptionEvent(eventID string, eventType paymentdomain.EventType, status subscriptiondomain.SubscriptionStatus, occurredAt time.Time) *paymentdomain.ProviderEvent {
	return &paymentdomain.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: eventID,
		Type:            eventType,
		OccurredAt:      occurredAt,
		RawPayload:      []byte(`{}`),
		Subscription: &paymentdomain.SubscriptionChange{
			ExternalSubscriptionID: "sub_test",
			UserID:                 f.user,
			ExternalPriceID:        "price_pro",
			Status:                 status,
			CurrentPeriodStart:     occurredAt,
			CurrentPeriodEnd:       occurredAt.Add(30 * 24 * time.Hour),
		},
	}
}

func TestCheckoutCompletedGrantsCredits(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeCredits, "price_starter", 500)

	event := &paymentdomain.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		OccurredAt:      time.Now().UTC(),
		RawPayload:      []byte(`{}`),
		Checkout: &paymentdomain.CheckoutCompleted{
			SessionID:       "cs_1",
			UserID:          f.user,
			ExternalPriceID: "price_starter",
			AmountTotal:     500,
			Currency:        "USD",
		},
	}

	outcome, err := f.sync.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	balance, err := f.ledger.GetBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Balance)

	// Redelivery with the same event id must not grant twice.
	outcome, err = f.sync.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)

	balance, err = f.ledger.GetBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Balance)
}

func TestCheckoutUnknownPlanRollsBack(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	event := &paymentdomain.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_missing_plan",
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		OccurredAt:      time.Now().UTC(),
		RawPayload:      []byte(`{}`),
		Checkout: &paymentdomain.CheckoutCompleted{
			SessionID:       "cs_2",
			UserID:          f.user,
			ExternalPriceID: "price_unconfigured",
		},
	}

	_, err := f.sync.ProcessEvent(ctx, event)
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPlan)

	// The failed attempt must roll back the event record so the provider's
	// retry can succeed once the plan exists.
	f.createPlan(t, plandomain.PlanTypeCredits, "price_unconfigured", 100)

	outcome, err := f.sync.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	balance, err := f.ledger.GetBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
}

func TestSubscriptionCreatedSwitchesMode(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeSubscription, "price_pro", 0)

	created := f.subscriptionEvent("evt_created", paymentdomain.EventTypeSubscriptionCreated,
		subscriptiondomain.SubscriptionStatusActive, time.Now().UTC())

	outcome, err := f.sync.ProcessEvent(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	var user userdomain.User
	require.NoError(t, f.db.First(&user, "id = ?", f.user).Error)
	assert.Equal(t, userdomain.AIConfigModeSubscription, user.AIConfigMode)
	assert.Equal(t, "gpt-4o-mini", user.AIModel)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "external_subscription_id = ?", "sub_test").Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestOutOfOrderUpdateIsDropped(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeSubscription, "price_pro", 0)

	base := time.Now().UTC().Truncate(time.Second)

	_, err := f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_c", paymentdomain.EventTypeSubscriptionCreated,
		subscriptiondomain.SubscriptionStatusActive, base))
	require.NoError(t, err)

	// Newer update lands first.
	outcome, err := f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_u2", paymentdomain.EventTypeSubscriptionUpdated,
		subscriptiondomain.SubscriptionStatusPastDue, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	// The older update arrives late and must not rewind the state.
	outcome, err = f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_u1", paymentdomain.EventTypeSubscriptionUpdated,
		subscriptiondomain.SubscriptionStatusActive, base.Add(1*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeStale, outcome)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "external_subscription_id = ?", "sub_test").Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)
}

func TestCanceledIsTerminal(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeSubscription, "price_pro", 0)

	base := time.Now().UTC().Truncate(time.Second)

	_, err := f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_c", paymentdomain.EventTypeSubscriptionCreated,
		subscriptiondomain.SubscriptionStatusActive, base))
	require.NoError(t, err)

	outcome, err := f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_d", paymentdomain.EventTypeSubscriptionDeleted,
		subscriptiondomain.SubscriptionStatusCanceled, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	// A later-delivered active update cannot resurrect it, even with a
	// newer provider timestamp.
	outcome, err = f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_u_late", paymentdomain.EventTypeSubscriptionUpdated,
		subscriptiondomain.SubscriptionStatusActive, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeStale, outcome)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "external_subscription_id = ?", "sub_test").Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, sub.Status)
	assert.NotNil(t, sub.CanceledAt)
}

func TestUpdateBeforeCreateActsAsCreate(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeSubscription, "price_pro", 0)

	base := time.Now().UTC().Truncate(time.Second)

	outcome, err := f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_u", paymentdomain.EventTypeSubscriptionUpdated,
		subscriptiondomain.SubscriptionStatusActive, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	// The original created event arrives afterwards with an older
	// timestamp and lands on the stale guard.
	outcome, err = f.sync.ProcessEvent(ctx, f.subscriptionEvent("evt_c", paymentdomain.EventTypeSubscriptionCreated,
		subscriptiondomain.SubscriptionStatusIncomplete, base))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeStale, outcome)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "external_subscription_id = ?", "sub_test").Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestIngestWebhookEndToEnd(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.createPlan(t, plandomain.PlanTypeCredits, "price_starter", 500)

	payload := []byte(`{
		"id": "evt_signed",
		"type": "checkout.session.completed",
		"created": 1756700000,
		"data": {"object": {
			"id": "cs_signed",
			"mode": "payment",
			"payment_status": "paid",
			"client_reference_id": "` + f.user.String() + `",
			"amount_total": 500,
			"currency": "usd",
			"metadata": {"price_id": "price_starter"}
		}}
	}`)

	header := stripe.SignPayload(payload, "whsec_test", time.Now())
	outcome, err := f.sync.IngestWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	balance, err := f.ledger.GetBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Balance)

	_, err = f.sync.IngestWebhook(ctx, payload, "t=1,v1=bad")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}
