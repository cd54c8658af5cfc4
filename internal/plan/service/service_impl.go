package service

import (
	"context"

	"github.com/hookforge/hookforge/internal/cache"
	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo plandomain.Repository

	Cache *cache.PlanResolverCache `optional:"true"`
}

type service struct {
	db    *gorm.DB
	repo  plandomain.Repository
	cache *cache.PlanResolverCache
}

func NewService(p Params) plandomain.Service {
	return &service{db: p.DB, repo: p.Repo, cache: p.Cache}
}

func (s *service) Resolve(ctx context.Context, id string) (*plandomain.Plan, error) {
	if s.cache != nil {
		if plan, ok := s.cache.Get(id); ok {
			return plan, nil
		}
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrUnknownPlan
	}
	if !plan.Active {
		return nil, plandomain.ErrInactivePlan
	}
	if s.cache != nil {
		s.cache.Set(id, plan)
	}
	return plan, nil
}

func (s *service) List(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.List(ctx, s.db)
}
