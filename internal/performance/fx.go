package performance

import (
	"github.com/hookforge/hookforge/internal/performance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("performance.service",
	fx.Provide(service.NewService),
)
