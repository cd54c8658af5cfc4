package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hookforge/hookforge/internal/clock"
	"github.com/hookforge/hookforge/internal/config"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	profiledomain "github.com/hookforge/hookforge/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	PerfSvc performancedomain.Service
	Holder  *config.AnalyticsConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	perfSvc performancedomain.Service
	holder  *config.AnalyticsConfigHolder
}

func NewService(p ServiceParam) profiledomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("profile.service"),
		clock: p.Clock,

		perfSvc: p.PerfSvc,
		holder:  p.Holder,
	}
}

func (s *Service) RebuildAll(ctx context.Context) (profiledomain.RebuildSummary, error) {
	cfg := s.holder.Get()
	now := s.clock.Now().UTC()
	since := now.AddDate(0, 0, -cfg.MonthlyWindowDays)

	aggs, err := s.perfSvc.AggregateByUserFormula(ctx, since)
	if err != nil {
		return profiledomain.RebuildSummary{}, err
	}

	byUser := make(map[string][]performancedomain.UserAggregate)
	for _, agg := range aggs {
		byUser[agg.UserID] = append(byUser[agg.UserID], agg)
	}

	summary := profiledomain.RebuildSummary{Users: len(byUser)}
	var errs []error
	for userID, userAggs := range byUser {
		if err := s.rebuildOne(ctx, cfg, userID, userAggs, now); err != nil {
			summary.Failures = append(summary.Failures, profiledomain.ProfileFailure{
				UserID: userID,
				Err:    err,
			})
			errs = append(errs, fmt.Errorf("rebuild profile %s: %w", userID, err))
			s.log.Warn("profile rebuild failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		summary.Upserted++
	}
	return summary, errors.Join(errs...)
}

func (s *Service) rebuildOne(ctx context.Context, cfg config.AnalyticsConfig, userID string, aggs []performancedomain.UserAggregate, now time.Time) error {
	var successful, underperforming []string
	for _, agg := range aggs {
		if agg.Count < int64(cfg.ProfileMinSamples) {
			continue
		}
		score := int(math.Round((agg.AvgRating/5*cfg.RatingWeight + agg.FavoriteRate*cfg.FavoriteWeight + agg.UsageRate*cfg.UsageWeight) * 100))
		switch {
		case score >= cfg.ProfileSuccessScore:
			successful = append(successful, agg.FormulaCode)
		case score <= cfg.ProfileUnderperformScore:
			underperforming = append(underperforming, agg.FormulaCode)
		}
	}
	sort.Strings(successful)
	sort.Strings(underperforming)

	successJSON, err := profiledomain.EncodeCodes(successful)
	if err != nil {
		return err
	}
	underJSON, err := profiledomain.EncodeCodes(underperforming)
	if err != nil {
		return err
	}

	profile := &profiledomain.CreatorProfile{
		UserID:                  userID,
		SuccessfulFormulas:      successJSON,
		UnderperformingFormulas: underJSON,
		LastUpdated:             now,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"successful_formulas",
			"underperforming_formulas",
			"last_updated",
			"updated_at",
		}),
	}).Create(profile).Error
}

func (s *Service) Get(ctx context.Context, userID string) (*profiledomain.CreatorProfile, error) {
	var profile profiledomain.CreatorProfile
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, successful_formulas, underperforming_formulas, last_updated, created_at, updated_at
		 FROM creator_profiles WHERE user_id = ?`,
		userID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.UserID == "" {
		return nil, nil
	}
	return &profile, nil
}
