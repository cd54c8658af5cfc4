package repository

import (
	"context"

	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, primary_limit, secondary_limit, reset_cadence,
		 overage_max_fraction, overage_unit_cents, active, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == "" {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, primary_limit, secondary_limit, reset_cadence,
		 overage_max_fraction, overage_unit_cents, active, created_at, updated_at
		 FROM plans ORDER BY id ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name",
			"primary_limit",
			"secondary_limit",
			"reset_cadence",
			"overage_max_fraction",
			"overage_unit_cents",
			"active",
			"updated_at",
		}),
	}).Create(plan).Error
}
