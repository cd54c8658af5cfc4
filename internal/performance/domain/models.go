// Package domain contains the per-generation feedback event model and the
// trailing-window aggregates derived from it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PerformanceRecord is one immutable feedback event for a generated hook.
// Appended by the generation/feedback flow, never mutated.
type PerformanceRecord struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       string       `gorm:"not null;index"`
	FormulaCode  string       `gorm:"not null;index"`
	Platform     string       `gorm:"not null"`
	Rating       *float64     `gorm:""`
	WasUsed      bool         `gorm:"not null;default:false"`
	WasFavorited bool         `gorm:"not null;default:false"`
	RecordedAt   time.Time    `gorm:"not null;index"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PerformanceRecord) TableName() string { return "performance_records" }

// Aggregate is a reduce over records in one trailing window. Rates are
// fractions in [0,1]. AvgRating only averages records that carry a rating.
type Aggregate struct {
	FormulaCode  string
	Platform     string
	Count        int64
	RatedCount   int64
	AvgRating    float64
	FavoriteRate float64
	UsageRate    float64
}

// UserAggregate is the per-user partition of the same reduce, used for
// profile rebuilds.
type UserAggregate struct {
	UserID       string
	FormulaCode  string
	Count        int64
	AvgRating    float64
	FavoriteRate float64
	UsageRate    float64
}
