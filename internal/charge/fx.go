package charge

import (
	"github.com/cvforge/creditengine/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge",
	fx.Provide(service.NewService),
)
