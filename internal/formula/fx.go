package formula

import (
	"github.com/hookforge/hookforge/internal/formula/repository"
	"github.com/hookforge/hookforge/internal/formula/service"
	"go.uber.org/fx"
)

var Module = fx.Module("formula.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
