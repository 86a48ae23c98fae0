package pricing

import (
	"github.com/cvforge/creditengine/internal/pricing/repository"
	"github.com/cvforge/creditengine/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
