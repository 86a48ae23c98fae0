package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/config"
	entitlementdomain "github.com/cvforge/creditengine/internal/entitlement/domain"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	userRepo userdomain.Repository
	subRepo  subscriptiondomain.Repository
	ledger   ledgerdomain.Service

	cfg config.Config
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	UserRepo userdomain.Repository
	SubRepo  subscriptiondomain.Repository
	Ledger   ledgerdomain.Service
	Cfg      config.Config
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("entitlement.service"),

		userRepo: p.UserRepo,
		subRepo:  p.SubRepo,
		ledger:   p.Ledger,
		cfg:      p.Cfg,
	}
}

func (s *Service) Resolve(ctx context.Context, userID snowflake.ID) (*entitlementdomain.AIAccess, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	if access := s.customAccess(user); access != nil {
		return access, nil
	}

	if s.cfg.SubscriptionAIProvider != "" {
		sub, err := s.subRepo.CurrentForUser(ctx, s.db, userID)
		if err != nil {
			return nil, err
		}
		if sub != nil && sub.Status.Grants() {
			return &entitlementdomain.AIAccess{
				Mode:     userdomain.AIConfigModeSubscription,
				Provider: s.cfg.SubscriptionAIProvider,
				Model:    s.systemModel(user),
				APIKey:   s.cfg.SubscriptionAIAPIKey,
			}, nil
		}
	}

	if s.cfg.CreditsAIProvider != "" {
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance.Balance > 0 {
			return &entitlementdomain.AIAccess{
				Mode:     userdomain.AIConfigModeCredits,
				Provider: s.cfg.CreditsAIProvider,
				Model:    s.systemModel(user),
				APIKey:   s.cfg.CreditsAIAPIKey,
			}, nil
		}
	}

	return nil, nil
}

func (s *Service) ResolveBatch(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID]*entitlementdomain.AIAccess, error) {
	out := make(map[snowflake.ID]*entitlementdomain.AIAccess, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	balances, err := s.ledger.GetBalances(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	for _, userID := range userIDs {
		user, err := s.userRepo.FindByID(ctx, s.db, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			out[userID] = nil
			continue
		}

		if access := s.customAccess(user); access != nil {
			out[userID] = access
			continue
		}

		if s.cfg.SubscriptionAIProvider != "" {
			sub, err := s.subRepo.CurrentForUser(ctx, s.db, userID)
			if err != nil {
				return nil, err
			}
			if sub != nil && sub.Status.Grants() {
				out[userID] = &entitlementdomain.AIAccess{
					Mode:     userdomain.AIConfigModeSubscription,
					Provider: s.cfg.SubscriptionAIProvider,
					Model:    s.systemModel(user),
					APIKey:   s.cfg.SubscriptionAIAPIKey,
				}
				continue
			}
		}

		if s.cfg.CreditsAIProvider != "" && balances[userID] > 0 {
			out[userID] = &entitlementdomain.AIAccess{
				Mode:     userdomain.AIConfigModeCredits,
				Provider: s.cfg.CreditsAIProvider,
				Model:    s.systemModel(user),
				APIKey:   s.cfg.CreditsAIAPIKey,
			}
			continue
		}

		out[userID] = nil
	}

	return out, nil
}

func (s *Service) customAccess(user *userdomain.User) *entitlementdomain.AIAccess {
	if !user.HasCustomConfig() {
		return nil
	}
	return &entitlementdomain.AIAccess{
		Mode:     userdomain.AIConfigModeCustom,
		Provider: user.CustomAIProvider,
		Model:    user.CustomAIModel,
		APIKey:   user.CustomAIAPIKey,
	}
}

func (s *Service) systemModel(user *userdomain.User) string {
	if user.AIModel != "" {
		return user.AIModel
	}
	return s.cfg.DefaultAIModel
}
