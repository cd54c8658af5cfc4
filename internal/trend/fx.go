package trend

import (
	"github.com/hookforge/hookforge/internal/trend/service"
	"go.uber.org/fx"
)

var Module = fx.Module("trend.service",
	fx.Provide(service.NewService),
)
