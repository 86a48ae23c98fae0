package service

import (
	"context"
	"fmt"

	"github.com/cvforge/creditengine/internal/config"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CheckoutSvc struct {
	db  *gorm.DB
	log *zap.Logger

	adapter  paymentdomain.ProviderAdapter
	planRepo plandomain.Repository
	userRepo userdomain.Repository

	successURL string
	cancelURL  string
}

type CheckoutParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Adapter  paymentdomain.ProviderAdapter
	PlanRepo plandomain.Repository
	UserRepo userdomain.Repository
	Cfg      config.Config
}

func NewCheckoutService(p CheckoutParam) paymentdomain.CheckoutService {
	return &CheckoutSvc{
		db:  p.DB,
		log: p.Log.Named("payment.checkout"),

		adapter:  p.Adapter,
		planRepo: p.PlanRepo,
		userRepo: p.UserRepo,

		successURL: p.Cfg.CheckoutSuccessURL,
		cancelURL:  p.Cfg.CheckoutCancelURL,
	}
}

func (s *CheckoutSvc) CreateSession(ctx context.Context, input paymentdomain.CheckoutSessionInput) (*paymentdomain.CheckoutSession, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, input.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, paymentdomain.ErrUnknownUser
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, input.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, paymentdomain.ErrUnknownPlan
	}

	successURL := input.SuccessURL
	if successURL == "" {
		successURL = s.successURL
	}
	cancelURL := input.CancelURL
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}

	session, err := s.adapter.CreateCheckoutSession(ctx, paymentdomain.CheckoutParams{
		ExternalPriceID: plan.ExternalPriceID,
		OneTime:         plan.Type == plandomain.PlanTypeCredits,
		UserID:          user.ID.String(),
		SuccessURL:      successURL,
		CancelURL:       cancelURL,
		Metadata: map[string]string{
			"user_id":  user.ID.String(),
			"price_id": plan.ExternalPriceID,
			"ref":      uuid.NewString(),
		},
	})
	if err != nil {
		s.log.Warn("checkout session creation failed",
			zap.String("user_id", user.ID.String()),
			zap.String("plan", plan.Name),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnreachable, err)
	}

	s.log.Info("checkout session created",
		zap.String("user_id", user.ID.String()),
		zap.String("plan", plan.Name),
		zap.String("session_id", session.ID))
	return session, nil
}
