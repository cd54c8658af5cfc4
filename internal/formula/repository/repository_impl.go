package repository

import (
	"context"
	"time"

	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() formuladomain.Repository {
	return &repo{}
}

const formulaColumns = `id, code, display_name, effectiveness_rating, avg_engagement_rate, is_active, created_at, updated_at`

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]formuladomain.FormulaRecord, error) {
	var formulas []formuladomain.FormulaRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+formulaColumns+` FROM hook_formulas WHERE is_active = ? ORDER BY code`,
		true,
	).Scan(&formulas).Error
	if err != nil {
		return nil, err
	}
	return formulas, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*formuladomain.FormulaRecord, error) {
	var formula formuladomain.FormulaRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+formulaColumns+` FROM hook_formulas WHERE code = ?`,
		code,
	).Scan(&formula).Error
	if err != nil {
		return nil, err
	}
	if formula.ID == 0 {
		return nil, nil
	}
	return &formula, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, formula *formuladomain.FormulaRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name",
			"is_active",
			"updated_at",
		}),
	}).Create(formula).Error
}

func (r *repo) UpdateScores(ctx context.Context, db *gorm.DB, code string, effectivenessRating, avgEngagementRate int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE hook_formulas
		 SET effectiveness_rating = ?, avg_engagement_rate = ?, updated_at = ?
		 WHERE code = ?`,
		effectivenessRating,
		avgEngagementRate,
		now,
		code,
	).Error
}
