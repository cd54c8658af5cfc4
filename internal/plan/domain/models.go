// Package domain contains the subscription plan catalog models.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUnknownPlan         = errors.New("unknown_plan")
	ErrInactivePlan        = errors.New("inactive_plan")
	ErrInvalidResetCadence = errors.New("invalid_reset_cadence")
)

// ResetCadence controls how often a plan's quota period rolls over.
type ResetCadence string

const (
	ResetCadenceWeekly  ResetCadence = "WEEKLY"
	ResetCadenceMonthly ResetCadence = "MONTHLY"
)

// Valid reports whether the cadence is one of the supported values.
func (c ResetCadence) Valid() bool {
	return c == ResetCadenceWeekly || c == ResetCadenceMonthly
}

// Plan defines quota limits and reset behavior for a subscription tier.
//
// A nil limit means unlimited. A zero limit means the quota exists but
// nothing can be consumed against it.
type Plan struct {
	ID                 string       `gorm:"primaryKey;type:text"`
	DisplayName        string       `gorm:"type:text;not null"`
	PrimaryLimit       *int64       `gorm:""`
	SecondaryLimit     *int64       `gorm:""`
	ResetCadence       ResetCadence `gorm:"type:text;not null"`
	OverageMaxFraction float64      `gorm:"not null;default:0"`
	OverageUnitCents   int64        `gorm:"not null;default:0"`
	Active             bool         `gorm:"not null;default:true"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Limits is the quota shape handed to the ledger when opening a period.
type Limits struct {
	Primary   *int64
	Secondary *int64
	Cadence   ResetCadence
}

// Limits returns the plan's quota limits. Pointers are copied so callers
// cannot mutate the catalog row.
func (p *Plan) Limits() Limits {
	return Limits{
		Primary:   copyLimit(p.PrimaryLimit),
		Secondary: copyLimit(p.SecondaryLimit),
		Cadence:   p.ResetCadence,
	}
}

// OverageAllowed reports whether the plan permits billed overage on the
// primary quota. Plans without a finite primary limit have nothing to
// overrun, so overage is disabled for them.
func (p *Plan) OverageAllowed() bool {
	return p.OverageMaxFraction > 0 && p.PrimaryLimit != nil && *p.PrimaryLimit > 0
}

// MaxOverageUnits returns the cap on billed overage units for one period.
func (p *Plan) MaxOverageUnits() int64 {
	if !p.OverageAllowed() {
		return 0
	}
	return int64(float64(*p.PrimaryLimit) * p.OverageMaxFraction)
}

func copyLimit(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB) ([]Plan, error)
	Upsert(ctx context.Context, db *gorm.DB, plan *Plan) error
}
