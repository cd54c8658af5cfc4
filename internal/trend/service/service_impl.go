package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hookforge/hookforge/internal/clock"
	"github.com/hookforge/hookforge/internal/config"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	trenddomain "github.com/hookforge/hookforge/internal/trend/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	FormulaRepo formuladomain.Repository
	PerfSvc     performancedomain.Service
	Holder      *config.AnalyticsConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	formulaRepo formuladomain.Repository
	perfSvc     performancedomain.Service
	holder      *config.AnalyticsConfigHolder
}

func NewService(p ServiceParam) trenddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("trend.service"),
		genID: p.GenID,
		clock: p.Clock,

		formulaRepo: p.FormulaRepo,
		perfSvc:     p.PerfSvc,
		holder:      p.Holder,
	}
}

type pairKey struct {
	formulaCode string
	platform    string
}

func (s *Service) RecomputeAll(ctx context.Context) (trenddomain.RunSummary, error) {
	cfg := s.holder.Get()
	now := s.clock.Now().UTC()
	weeklySince := now.AddDate(0, 0, -cfg.WeeklyWindowDays)
	monthlySince := now.AddDate(0, 0, -cfg.MonthlyWindowDays)

	formulas, err := s.formulaRepo.ListActive(ctx, s.db)
	if err != nil {
		return trenddomain.RunSummary{}, err
	}
	active := make(map[string]formuladomain.FormulaRecord, len(formulas))
	for _, formula := range formulas {
		active[formula.Code] = formula
	}

	monthly, err := s.perfSvc.AggregateAllByFormulaPlatform(ctx, monthlySince)
	if err != nil {
		return trenddomain.RunSummary{}, err
	}
	weeklyAggs, err := s.perfSvc.AggregateAllByFormulaPlatform(ctx, weeklySince)
	if err != nil {
		return trenddomain.RunSummary{}, err
	}
	weekly := make(map[pairKey]performancedomain.Aggregate, len(weeklyAggs))
	for _, agg := range weeklyAggs {
		weekly[pairKey{agg.FormulaCode, agg.Platform}] = agg
	}

	summary := trenddomain.RunSummary{Observed: len(monthly)}
	seen := make(map[pairKey]struct{}, len(monthly))
	var errs []error
	for _, monthlyAgg := range monthly {
		seen[pairKey{monthlyAgg.FormulaCode, monthlyAgg.Platform}] = struct{}{}
		formula, ok := active[monthlyAgg.FormulaCode]
		if !ok {
			summary.UnknownFormulas++
			continue
		}
		weeklyAgg := weekly[pairKey{monthlyAgg.FormulaCode, monthlyAgg.Platform}]

		record := s.buildRecord(cfg, formula, monthlyAgg, weeklyAgg, now)
		if err := s.upsert(ctx, record); err != nil {
			summary.Failures = append(summary.Failures, trenddomain.TrendFailure{
				FormulaCode: monthlyAgg.FormulaCode,
				Platform:    monthlyAgg.Platform,
				Err:         err,
			})
			errs = append(errs, fmt.Errorf("upsert trend %s/%s: %w", monthlyAgg.FormulaCode, monthlyAgg.Platform, err))
			s.log.Warn("trend upsert failed",
				zap.String("formula_code", monthlyAgg.FormulaCode),
				zap.String("platform", monthlyAgg.Platform),
				zap.Error(err),
			)
			continue
		}
		summary.Upserted++
	}

	// Existing rows whose records have all aged out of the monthly window
	// still get refreshed to zero; otherwise ranking keeps reading the last
	// computed velocity forever.
	existing, err := s.existingKeys(ctx)
	if err != nil {
		return summary, errors.Join(append(errs, err)...)
	}
	for _, key := range existing {
		if _, ok := seen[key]; ok {
			continue
		}
		formula, ok := active[key.formulaCode]
		if !ok {
			continue
		}
		zero := performancedomain.Aggregate{FormulaCode: key.formulaCode, Platform: key.platform}
		if err := s.upsert(ctx, s.buildRecord(cfg, formula, zero, performancedomain.Aggregate{}, now)); err != nil {
			summary.Failures = append(summary.Failures, trenddomain.TrendFailure{
				FormulaCode: key.formulaCode,
				Platform:    key.platform,
				Err:         err,
			})
			errs = append(errs, fmt.Errorf("refresh idle trend %s/%s: %w", key.formulaCode, key.platform, err))
			s.log.Warn("idle trend refresh failed",
				zap.String("formula_code", key.formulaCode),
				zap.String("platform", key.platform),
				zap.Error(err),
			)
			continue
		}
		summary.Upserted++
	}
	return summary, errors.Join(errs...)
}

func (s *Service) existingKeys(ctx context.Context) ([]pairKey, error) {
	var rows []struct {
		FormulaCode string
		Platform    string
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT formula_code, platform FROM formula_trends ORDER BY formula_code, platform`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make([]pairKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, pairKey{row.FormulaCode, row.Platform})
	}
	return keys, nil
}

func (s *Service) buildRecord(cfg config.AnalyticsConfig, formula formuladomain.FormulaRecord, monthly, weekly performancedomain.Aggregate, now time.Time) *trenddomain.TrendRecord {
	return &trenddomain.TrendRecord{
		ID:                  s.genID.Generate(),
		FormulaCode:         monthly.FormulaCode,
		Platform:            monthly.Platform,
		WeeklyUsage:         weekly.Count,
		MonthlyUsage:        monthly.Count,
		AvgPerformanceScore: int(math.Round(monthly.AvgRating * 20)),
		TrendDirection:      direction(cfg, weekly.Count, monthly.Count),
		FatigueLevel:        fatigueLevel(cfg, formula.EffectivenessRating, monthly.AvgRating),
		DataPoints:          monthly.Count,
		LastCalculated:      now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// direction applies the hysteresis band around the expected weekly share of
// monthly usage so noisy small samples do not flap between directions.
func direction(cfg config.AnalyticsConfig, weeklyUsage, monthlyUsage int64) trenddomain.TrendDirection {
	expectedWeekly := float64(monthlyUsage) / 4
	switch {
	case float64(weeklyUsage) > expectedWeekly*cfg.TrendRisingBand:
		return trenddomain.TrendRising
	case float64(weeklyUsage) < expectedWeekly*cfg.TrendFallingBand:
		return trenddomain.TrendFalling
	default:
		return trenddomain.TrendStable
	}
}

// fatigueLevel compares recent average rating against the long-run rating
// mapped onto the same 0-1 scale. The output is deliberately binary.
func fatigueLevel(cfg config.AnalyticsConfig, effectivenessRating int, monthlyAvgRating float64) int {
	gap := monthlyAvgRating - float64(effectivenessRating)/100
	if gap > cfg.FatigueGapThreshold {
		return cfg.FatigueOnsetScore
	}
	return 0
}

// upsert is a single atomic insert-or-update on the (formula_code, platform)
// key. Concurrent recomputation runs cannot race a duplicate insert.
func (s *Service) upsert(ctx context.Context, record *trenddomain.TrendRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "formula_code"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"weekly_usage",
			"monthly_usage",
			"avg_performance_score",
			"trend_direction",
			"fatigue_level",
			"data_points",
			"last_calculated",
			"updated_at",
		}),
	}).Create(record).Error
}

const trendColumns = `id, formula_code, platform, weekly_usage, monthly_usage,
	 avg_performance_score, trend_direction, fatigue_level, data_points,
	 last_calculated, created_at, updated_at`

func (s *Service) List(ctx context.Context) ([]trenddomain.TrendRecord, error) {
	var records []trenddomain.TrendRecord
	err := s.db.WithContext(ctx).Raw(
		`SELECT ` + trendColumns + ` FROM formula_trends ORDER BY formula_code, platform`,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) ListByFormula(ctx context.Context, formulaCode string) ([]trenddomain.TrendRecord, error) {
	var records []trenddomain.TrendRecord
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+trendColumns+` FROM formula_trends WHERE formula_code = ? ORDER BY platform`,
		formulaCode,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
