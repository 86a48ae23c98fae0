package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"github.com/cvforge/creditengine/internal/pricing/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) pricingdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pricingdomain.PricingRule{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  repository.Provide(),
		Cfg:   config.Config{DefaultCreditsPerKTokens: 2},
	})
}

func TestTokenCostRoundsUp(t *testing.T) {
	tests := []struct {
		name   string
		tokens int64
		perK   int64
		want   int64
	}{
		{"exact thousands", 3000, 5, 15},
		{"partial thousand rounds up", 2500, 5, 13},
		{"single token", 1, 5, 1},
		{"below one credit", 100, 1, 1},
		{"large usage", 123456, 3, 371},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenCost(tt.tokens, tt.perK))
		})
	}
}

func TestCostWithConfiguredRule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "gpt-4o",
		PricingType:       "token",
		CreditsPerKTokens: 5,
	})
	require.NoError(t, err)

	cost, err := svc.Cost(ctx, "openai", "gpt-4o", &pricingdomain.TokenUsage{TotalTokens: 2500})
	require.NoError(t, err)
	assert.Equal(t, int64(13), cost)
}

func TestCostFallsBackToDefault(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// No rule configured for this pair; the injected default (2/1K) applies.
	cost, err := svc.Cost(ctx, "anthropic", "claude-unknown", &pricingdomain.TokenUsage{TotalTokens: 1500})
	require.NoError(t, err)
	assert.Equal(t, int64(3), cost)
}

func TestCostRequestPricingIgnoresTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "dall-e-3",
		PricingType:       "request",
		CreditsPerRequest: 10,
	})
	require.NoError(t, err)

	cost, err := svc.Cost(ctx, "openai", "dall-e-3", &pricingdomain.TokenUsage{TotalTokens: 99999})
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)

	// Request pricing charges even with no reported usage.
	cost, err = svc.Cost(ctx, "openai", "dall-e-3", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)
}

func TestCostNilUsageIsFree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cost, err := svc.Cost(ctx, "openai", "gpt-4o-mini", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cost)

	cost, err = svc.Cost(ctx, "openai", "gpt-4o-mini", &pricingdomain.TokenUsage{TotalTokens: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), cost)
}

func TestEstimateCost(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "gpt-4o",
		PricingType:       "token",
		CreditsPerKTokens: 5,
	})
	require.NoError(t, err)

	estimated, err := svc.EstimateCost(ctx, "openai", "gpt-4o", 4096)
	require.NoError(t, err)
	assert.Equal(t, int64(21), estimated)
}

func TestCreateRuleValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:    "openai",
		Model:       "gpt-4o",
		PricingType: "token",
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)

	_, err = svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "gpt-4o",
		PricingType:       "subscription",
		CreditsPerKTokens: 1,
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidPricingType)
}

func TestCreateRuleRejectsDuplicateActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "gpt-4o",
		PricingType:       "token",
		CreditsPerKTokens: 5,
	})
	require.NoError(t, err)

	_, err = svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "OpenAI",
		Model:             "gpt-4o",
		PricingType:       "token",
		CreditsPerKTokens: 7,
	})
	assert.ErrorIs(t, err, pricingdomain.ErrDuplicateRule)

	// Deactivating frees the pair for a replacement rule.
	require.NoError(t, svc.DeactivateRule(ctx, rule.ID))

	_, err = svc.CreateRule(ctx, pricingdomain.CreateRuleRequest{
		Provider:          "openai",
		Model:             "gpt-4o",
		PricingType:       "token",
		CreditsPerKTokens: 7,
	})
	require.NoError(t, err)
}
