package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  pricingdomain.Repository

	// System-wide fallback injected at construction, never read from the
	// environment at call time.
	defaultCreditsPerKTokens int64
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  pricingdomain.Repository
	Cfg   config.Config
}

func NewService(p ServiceParam) pricingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("pricing.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		defaultCreditsPerKTokens: p.Cfg.DefaultCreditsPerKTokens,
	}
}

func (s *Service) ResolveRule(ctx context.Context, provider, model string) (pricingdomain.PricingRule, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)

	rule, err := s.repo.FindActiveRule(ctx, s.db, provider, model)
	if err != nil {
		return pricingdomain.PricingRule{}, err
	}
	if rule != nil {
		return *rule, nil
	}

	return pricingdomain.PricingRule{
		Provider:          provider,
		Model:             model,
		PricingType:       pricingdomain.PricingTypeToken,
		CreditsPerKTokens: s.defaultCreditsPerKTokens,
		IsActive:          true,
	}, nil
}

func (s *Service) Cost(ctx context.Context, provider, model string, usage *pricingdomain.TokenUsage) (int64, error) {
	rule, err := s.ResolveRule(ctx, provider, model)
	if err != nil {
		return 0, err
	}

	switch rule.PricingType {
	case pricingdomain.PricingTypeRequest:
		return rule.CreditsPerRequest, nil
	case pricingdomain.PricingTypeToken:
		if usage == nil || usage.TotalTokens <= 0 {
			// Never guess a token count the provider did not report.
			return 0, nil
		}
		return tokenCost(usage.TotalTokens, rule.CreditsPerKTokens), nil
	default:
		return 0, pricingdomain.ErrInvalidPricingType
	}
}

func (s *Service) EstimateCost(ctx context.Context, provider, model string, maxTokens int64) (int64, error) {
	rule, err := s.ResolveRule(ctx, provider, model)
	if err != nil {
		return 0, err
	}

	switch rule.PricingType {
	case pricingdomain.PricingTypeRequest:
		return rule.CreditsPerRequest, nil
	case pricingdomain.PricingTypeToken:
		if maxTokens <= 0 {
			return 0, nil
		}
		return tokenCost(maxTokens, rule.CreditsPerKTokens), nil
	default:
		return 0, pricingdomain.ErrInvalidPricingType
	}
}

// tokenCost is ceil(tokens / 1000 * perK) in integer arithmetic.
func tokenCost(tokens, creditsPerKTokens int64) int64 {
	return (tokens*creditsPerKTokens + 999) / 1000
}

func (s *Service) CreateRule(ctx context.Context, req pricingdomain.CreateRuleRequest) (*pricingdomain.PricingRule, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	model := strings.TrimSpace(req.Model)
	if provider == "" || model == "" {
		return nil, pricingdomain.ErrInvalidRule
	}

	pricingType, err := pricingdomain.ParsePricingType(req.PricingType)
	if err != nil {
		return nil, err
	}
	switch pricingType {
	case pricingdomain.PricingTypeRequest:
		if req.CreditsPerRequest <= 0 {
			return nil, pricingdomain.ErrInvalidRule
		}
	case pricingdomain.PricingTypeToken:
		if req.CreditsPerKTokens <= 0 {
			return nil, pricingdomain.ErrInvalidRule
		}
	}

	now := s.clock.Now(ctx)
	rule := &pricingdomain.PricingRule{
		ID:                s.genID.Generate(),
		Provider:          provider,
		Model:             model,
		PricingType:       pricingType,
		CreditsPerRequest: req.CreditsPerRequest,
		CreditsPerKTokens: req.CreditsPerKTokens,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindActiveRule(ctx, tx, provider, model)
		if err != nil {
			return err
		}
		if existing != nil {
			return pricingdomain.ErrDuplicateRule
		}
		return s.repo.Insert(ctx, tx, rule)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("pricing rule created",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("pricing_type", string(pricingType)))
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context) ([]pricingdomain.PricingRule, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) DeactivateRule(ctx context.Context, id snowflake.ID) error {
	return s.repo.Deactivate(ctx, s.db, id)
}
