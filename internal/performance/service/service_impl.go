package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hookforge/hookforge/internal/clock"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) performancedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("performance.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, req performancedomain.RecordRequest) (*performancedomain.PerformanceRecord, error) {
	if req.UserID == "" {
		return nil, performancedomain.ErrInvalidUser
	}
	if req.FormulaCode == "" {
		return nil, performancedomain.ErrInvalidFormulaCode
	}
	if req.Platform == "" {
		return nil, performancedomain.ErrInvalidPlatform
	}
	if req.Rating != nil && (*req.Rating < 0 || *req.Rating > 5) {
		return nil, performancedomain.ErrInvalidRating
	}

	now := s.clock.Now().UTC()
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}

	record := &performancedomain.PerformanceRecord{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		FormulaCode:  req.FormulaCode,
		Platform:     req.Platform,
		Rating:       req.Rating,
		WasUsed:      req.WasUsed,
		WasFavorited: req.WasFavorited,
		RecordedAt:   recordedAt.UTC(),
		CreatedAt:    now,
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO performance_records (
			id, user_id, formula_code, platform, rating, was_used, was_favorited, recorded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.FormulaCode,
		record.Platform,
		record.Rating,
		record.WasUsed,
		record.WasFavorited,
		record.RecordedAt,
		record.CreatedAt,
	).Error
	if err != nil {
		return nil, err
	}
	return record, nil
}

// aggregateSelect computes every rate in one pass so a window is read once
// per job run, never per metric.
const aggregateSelect = `
	COUNT(1) AS count,
	SUM(CASE WHEN rating IS NOT NULL THEN 1 ELSE 0 END) AS rated_count,
	COALESCE(AVG(rating), 0) AS avg_rating,
	AVG(CASE WHEN was_favorited THEN 1.0 ELSE 0.0 END) AS favorite_rate,
	AVG(CASE WHEN was_used THEN 1.0 ELSE 0.0 END) AS usage_rate`

func (s *Service) AggregateByFormula(ctx context.Context, formulaCode string, since time.Time) (performancedomain.Aggregate, error) {
	var agg performancedomain.Aggregate
	err := s.db.WithContext(ctx).Raw(
		`SELECT formula_code,`+aggregateSelect+`
		 FROM performance_records
		 WHERE formula_code = ? AND recorded_at >= ?
		 GROUP BY formula_code`,
		formulaCode,
		since,
	).Scan(&agg).Error
	if err != nil {
		return performancedomain.Aggregate{}, err
	}
	if agg.Count == 0 {
		// New formulas have no history yet; downstream jobs expect an
		// empty aggregate rather than an error.
		return performancedomain.Aggregate{FormulaCode: formulaCode}, nil
	}
	return agg, nil
}

func (s *Service) AggregateAllByFormula(ctx context.Context, since time.Time) ([]performancedomain.Aggregate, error) {
	var aggs []performancedomain.Aggregate
	err := s.db.WithContext(ctx).Raw(
		`SELECT formula_code,`+aggregateSelect+`
		 FROM performance_records
		 WHERE recorded_at >= ?
		 GROUP BY formula_code
		 ORDER BY formula_code`,
		since,
	).Scan(&aggs).Error
	if err != nil {
		return nil, err
	}
	return aggs, nil
}

func (s *Service) AggregateAllByFormulaPlatform(ctx context.Context, since time.Time) ([]performancedomain.Aggregate, error) {
	var aggs []performancedomain.Aggregate
	err := s.db.WithContext(ctx).Raw(
		`SELECT formula_code, platform,`+aggregateSelect+`
		 FROM performance_records
		 WHERE recorded_at >= ?
		 GROUP BY formula_code, platform
		 ORDER BY formula_code, platform`,
		since,
	).Scan(&aggs).Error
	if err != nil {
		return nil, err
	}
	return aggs, nil
}

func (s *Service) AggregateByUserFormula(ctx context.Context, since time.Time) ([]performancedomain.UserAggregate, error) {
	var aggs []performancedomain.UserAggregate
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, formula_code,
		 COUNT(1) AS count,
		 COALESCE(AVG(rating), 0) AS avg_rating,
		 AVG(CASE WHEN was_favorited THEN 1.0 ELSE 0.0 END) AS favorite_rate,
		 AVG(CASE WHEN was_used THEN 1.0 ELSE 0.0 END) AS usage_rate
		 FROM performance_records
		 WHERE recorded_at >= ?
		 GROUP BY user_id, formula_code
		 ORDER BY user_id, formula_code`,
		since,
	).Scan(&aggs).Error
	if err != nil {
		return nil, err
	}
	return aggs, nil
}
