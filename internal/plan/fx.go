package plan

import (
	"github.com/hookforge/hookforge/internal/cache"
	"github.com/hookforge/hookforge/internal/plan/repository"
	"github.com/hookforge/hookforge/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(cache.NewPlanResolverCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
