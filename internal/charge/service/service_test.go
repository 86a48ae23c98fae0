package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/cvforge/creditengine/internal/charge/domain"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	entitlementservice "github.com/cvforge/creditengine/internal/entitlement/service"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	ledgerservice "github.com/cvforge/creditengine/internal/ledger/service"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	pricingrepository "github.com/cvforge/creditengine/internal/pricing/repository"
	pricingservice "github.com/cvforge/creditengine/internal/pricing/service"
	quotaservice "github.com/cvforge/creditengine/internal/quota/service"
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

type chargeFixture struct {
	db     *gorm.DB
	svc    chargedomain.Service
	ledger ledgerdomain.Service
	node   *snowflake.Node
}

func newChargeFixture(t *testing.T) *chargeFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&pricingdomain.PricingRule{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		CreditsAIProvider:        "openai",
		CreditsAIAPIKey:          "sk-credits",
		SubscriptionAIProvider:   "openai",
		SubscriptionAIAPIKey:     "sk-sub",
		DefaultAIModel:           "gpt-4o-mini",
		DefaultCreditsPerKTokens: 1,
	}

	log := zap.NewNop()
	sysClock := clock.SystemClock{}

	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: sysClock, Cfg: cfg,
	})
	pricingSvc := pricingservice.NewService(pricingservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: sysClock,
		Repo: pricingrepository.Provide(), Cfg: cfg,
	})
	entitlementSvc := entitlementservice.NewService(entitlementservice.ServiceParam{
		DB: db, Log: log,
		UserRepo: userrepository.Provide(),
		SubRepo:  subscriptionrepository.Provide(),
		Ledger:   ledgerSvc,
		Cfg:      cfg,
	})
	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		Log: log, Clock: sysClock, Cfg: config.Config{QuotaEnabled: false},
	})

	svc := NewService(ServiceParam{
		Log:         log,
		Entitlement: entitlementSvc,
		Pricing:     pricingSvc,
		Ledger:      ledgerSvc,
		Quota:       quotaSvc,
	})

	return &chargeFixture{db: db, svc: svc, ledger: ledgerSvc, node: node}
}

func (f *chargeFixture) createUser(t *testing.T, mutate func(*userdomain.User)) snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           f.node.Generate(),
		Email:        f.node.Generate().String() + "@example.com",
		AIConfigMode: userdomain.AIConfigModeCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, f.db.Create(user).Error)
	return user.ID
}

func TestAuthorizeThenConsume(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	userID := f.createUser(t, nil)
	_, err := f.ledger.Grant(ctx, userID, 10, ledgerdomain.TransactionTypeBonus, "bonus", "")
	require.NoError(t, err)

	// Admission prices the full 4096-token budget.
	auth, err := f.svc.Authorize(ctx, userID, 4096)
	require.NoError(t, err)
	assert.Equal(t, userdomain.AIConfigModeCredits, auth.Access.Mode)
	assert.Equal(t, int64(5), auth.EstimatedCredits)

	// Settlement charges only what the provider reported.
	result, err := f.svc.ConsumeCredits(ctx, userID, &pricingdomain.TokenUsage{TotalTokens: 1800}, "resume rewrite")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(8), result.NewBalance)
}

func TestAuthorizeInsufficientEstimate(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	userID := f.createUser(t, nil)
	_, err := f.ledger.Grant(ctx, userID, 2, ledgerdomain.TransactionTypeBonus, "bonus", "")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, userID, 4096)
	require.Error(t, err)

	var insufficient *ledgerdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Equal(t, int64(2), insufficient.Available)
}

func TestAuthorizeNoAccess(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	userID := f.createUser(t, nil)

	_, err := f.svc.Authorize(ctx, userID, 100)
	assert.ErrorIs(t, err, chargedomain.ErrNoAIAccess)
}

func TestConsumeCustomModeIsUnmetered(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	userID := f.createUser(t, func(u *userdomain.User) {
		u.CustomAIProvider = "anthropic"
		u.CustomAIModel = "claude-sonnet-4-20250514"
		u.CustomAIAPIKey = "sk-own"
	})

	auth, err := f.svc.Authorize(ctx, userID, 100000)
	require.NoError(t, err)
	assert.Equal(t, userdomain.AIConfigModeCustom, auth.Access.Mode)
	assert.Equal(t, int64(0), auth.EstimatedCredits)

	result, err := f.svc.ConsumeCredits(ctx, userID, &pricingdomain.TokenUsage{TotalTokens: 50000}, "big call")
	require.NoError(t, err)
	assert.True(t, result.Success)

	balance, err := f.ledger.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)
}

func TestConsumeZeroUsageIsFree(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	userID := f.createUser(t, nil)
	_, err := f.ledger.Grant(ctx, userID, 10, ledgerdomain.TransactionTypeBonus, "bonus", "")
	require.NoError(t, err)

	result, err := f.svc.ConsumeCredits(ctx, userID, nil, "aborted call")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(10), result.NewBalance)
}
