// Package domain contains per (formula, platform) trend and fatigue records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendStable  TrendDirection = "stable"
	TrendFalling TrendDirection = "falling"
)

// TrendRecord holds the recomputed velocity and fatigue signals read by
// hook ranking. Upserted whole on every recomputation run.
type TrendRecord struct {
	ID                  snowflake.ID   `gorm:"primaryKey"`
	FormulaCode         string         `gorm:"not null;uniqueIndex:ux_formula_trends_key"`
	Platform            string         `gorm:"not null;uniqueIndex:ux_formula_trends_key"`
	WeeklyUsage         int64          `gorm:"not null;default:0"`
	MonthlyUsage        int64          `gorm:"not null;default:0"`
	AvgPerformanceScore int            `gorm:"not null;default:0"`
	TrendDirection      TrendDirection `gorm:"type:text;not null"`
	FatigueLevel        int            `gorm:"not null;default:0"`
	DataPoints          int64          `gorm:"not null;default:0"`
	LastCalculated      time.Time      `gorm:"not null"`
	CreatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TrendRecord) TableName() string { return "formula_trends" }
