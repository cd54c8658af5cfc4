// Package domain contains the hook formula catalog and its derived scores.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// FormulaRecord is one hook formula with its long-run derived scores.
// EffectivenessRating and AvgEngagementRate are mutated only by the
// recalculation job, everything else is catalog data.
type FormulaRecord struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	Code                string       `gorm:"not null;uniqueIndex:ux_hook_formulas_code"`
	DisplayName         string       `gorm:"not null"`
	EffectivenessRating int          `gorm:"not null;default:50"`
	AvgEngagementRate   int          `gorm:"not null;default:0"`
	IsActive            bool         `gorm:"not null;default:true"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FormulaRecord) TableName() string { return "hook_formulas" }

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB) ([]FormulaRecord, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*FormulaRecord, error)
	Upsert(ctx context.Context, db *gorm.DB, formula *FormulaRecord) error
	UpdateScores(ctx context.Context, db *gorm.DB, code string, effectivenessRating, avgEngagementRate int, now time.Time) error
}
