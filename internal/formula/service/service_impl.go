package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hookforge/hookforge/internal/clock"
	"github.com/hookforge/hookforge/internal/config"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    formuladomain.Repository
	PerfSvc performancedomain.Service
	Holder  *config.AnalyticsConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	repo    formuladomain.Repository
	perfSvc performancedomain.Service
	holder  *config.AnalyticsConfigHolder
}

func NewService(p ServiceParam) formuladomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("formula.service"),
		clock: p.Clock,

		repo:    p.Repo,
		perfSvc: p.PerfSvc,
		holder:  p.Holder,
	}
}

func (s *Service) ListActive(ctx context.Context) ([]formuladomain.FormulaRecord, error) {
	return s.repo.ListActive(ctx, s.db)
}

func (s *Service) RecalculateAll(ctx context.Context) (formuladomain.RecalcSummary, error) {
	cfg := s.holder.Get()
	now := s.clock.Now().UTC()
	since := now.AddDate(0, 0, -cfg.MonthlyWindowDays)

	formulas, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return formuladomain.RecalcSummary{}, err
	}

	var summary formuladomain.RecalcSummary
	var errs []error
	for _, formula := range formulas {
		if err := s.recalculateOne(ctx, cfg, formula, since, now, &summary); err != nil {
			summary.Failures = append(summary.Failures, formuladomain.RecalcFailure{
				FormulaCode: formula.Code,
				Err:         err,
			})
			errs = append(errs, fmt.Errorf("recalculate %s: %w", formula.Code, err))
			s.log.Warn("formula recalculation failed",
				zap.String("formula_code", formula.Code),
				zap.Error(err),
			)
		}
	}
	return summary, errors.Join(errs...)
}

func (s *Service) recalculateOne(ctx context.Context, cfg config.AnalyticsConfig, formula formuladomain.FormulaRecord, since, now time.Time, summary *formuladomain.RecalcSummary) error {
	agg, err := s.perfSvc.AggregateByFormula(ctx, formula.Code, since)
	if err != nil {
		return err
	}
	summary.Evaluated++

	// Below the sample gate the prior rating stands untouched, no matter
	// how extreme the few observed ratings are.
	if agg.Count < int64(cfg.MinSampleSize) {
		summary.BelowSample++
		return nil
	}

	ratingScore := agg.AvgRating / 5
	favoriteScore := agg.FavoriteRate
	usageScore := agg.UsageRate

	newRating := int(math.Round((ratingScore*cfg.RatingWeight + favoriteScore*cfg.FavoriteWeight + usageScore*cfg.UsageWeight) * 100))
	engagement := int(math.Round((favoriteScore + usageScore) * 50))

	rating := formula.EffectivenessRating
	delta := newRating - rating
	if delta < 0 {
		delta = -delta
	}
	if delta > cfg.EffectivenessDamping {
		rating = newRating
		summary.Updated++
	} else {
		summary.Damped++
	}

	return s.repo.UpdateScores(ctx, s.db, formula.Code, rating, engagement, now)
}
