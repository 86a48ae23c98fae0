package payment

import (
	"github.com/cvforge/creditengine/internal/config"
	"github.com/cvforge/creditengine/internal/payment/adapters/stripe"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	"github.com/cvforge/creditengine/internal/payment/repository"
	"github.com/cvforge/creditengine/internal/payment/service"
	"go.uber.org/fx"
)

func provideAdapter(cfg config.Config) paymentdomain.ProviderAdapter {
	return stripe.NewAdapter(cfg.PaymentWebhookSecret, cfg.PaymentAPIKey)
}

var Module = fx.Module("payment",
	fx.Provide(
		provideAdapter,
		repository.Provide,
		service.NewSynchronizer,
		service.NewCheckoutService,
	),
)
