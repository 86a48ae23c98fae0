package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/cvforge/creditengine/internal/charge/domain"
	entitlementdomain "github.com/cvforge/creditengine/internal/entitlement/domain"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	quotadomain "github.com/cvforge/creditengine/internal/quota/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log         *zap.Logger
	Entitlement entitlementdomain.Service
	Pricing     pricingdomain.Service
	Ledger      ledgerdomain.Service
	Quota       quotadomain.Service
}

type service struct {
	log         *zap.Logger
	entitlement entitlementdomain.Service
	pricing     pricingdomain.Service
	ledger      ledgerdomain.Service
	quota       quotadomain.Service
}

func NewService(p ServiceParam) chargedomain.Service {
	return &service{
		log:         p.Log.Named("charge.service"),
		entitlement: p.Entitlement,
		pricing:     p.Pricing,
		ledger:      p.Ledger,
		quota:       p.Quota,
	}
}

func (s *service) GetUserAIConfig(ctx context.Context, userID snowflake.ID) (*entitlementdomain.AIAccess, error) {
	access, err := s.entitlement.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if access == nil {
		return nil, chargedomain.ErrNoAIAccess
	}
	return access, nil
}

func (s *service) Authorize(ctx context.Context, userID snowflake.ID, maxTokens int64) (*chargedomain.Authorization, error) {
	access, err := s.GetUserAIConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Custom keys and subscriptions are unmetered; admit immediately.
	if access.Mode != userdomain.AIConfigModeCredits {
		return &chargedomain.Authorization{Access: access}, nil
	}

	estimated, err := s.pricing.EstimateCost(ctx, access.Provider, access.Model, maxTokens)
	if err != nil {
		return nil, err
	}

	ok, err := s.ledger.CheckBalance(ctx, userID, estimated)
	if err != nil {
		return nil, err
	}
	if !ok {
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return nil, &ledgerdomain.InsufficientCreditsError{
			Required:  estimated,
			Available: balance.Balance,
		}
	}

	return &chargedomain.Authorization{Access: access, EstimatedCredits: estimated}, nil
}

func (s *service) ConsumeCredits(ctx context.Context, userID snowflake.ID, usage *pricingdomain.TokenUsage, description string) (ledgerdomain.ConsumeResult, error) {
	access, err := s.GetUserAIConfig(ctx, userID)
	if err != nil {
		return ledgerdomain.ConsumeResult{}, err
	}

	if access.Mode != userdomain.AIConfigModeCredits {
		return ledgerdomain.ConsumeResult{Success: true}, nil
	}

	cost, err := s.pricing.Cost(ctx, access.Provider, access.Model, usage)
	if err != nil {
		return ledgerdomain.ConsumeResult{}, err
	}
	if cost == 0 {
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return ledgerdomain.ConsumeResult{}, err
		}
		return ledgerdomain.ConsumeResult{Success: true, NewBalance: balance.Balance}, nil
	}

	if err := s.quota.CanConsume(ctx, userID, cost); err != nil {
		s.log.Warn("consume blocked by quota",
			zap.String("user_id", userID.String()),
			zap.Int64("credits", cost))
		return ledgerdomain.ConsumeResult{}, err
	}

	total := int64(0)
	if usage != nil {
		total = usage.TotalTokens
	}
	return s.ledger.Consume(ctx, userID, cost, ledgerdomain.UsageContext{
		Provider:    access.Provider,
		Model:       access.Model,
		TotalTokens: total,
		Description: description,
	})
}

func (s *service) CheckCreditsBalance(ctx context.Context, userID snowflake.ID, required int64) (bool, error) {
	return s.ledger.CheckBalance(ctx, userID, required)
}

func (s *service) EstimateCredits(ctx context.Context, provider, model string, maxTokens int64) (int64, error) {
	return s.pricing.EstimateCost(ctx, provider, model, maxTokens)
}

func (s *service) CalculateCreditsForUsage(ctx context.Context, provider, model string, usage *pricingdomain.TokenUsage) (int64, error) {
	return s.pricing.Cost(ctx, provider, model, usage)
}
