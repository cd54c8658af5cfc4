// Package domain contains the usage ledger models for per-period quota tracking.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerStatus is the lifecycle state of a usage ledger entry.
//
// Exactly one CURRENT entry exists per user, enforced by a partial unique
// index. Expired entries become HISTORICAL and a fresh CURRENT entry is
// opened in the same transaction. Entries whose plan can no longer be
// resolved are QUARANTINED and excluded from enforcement until an operator
// intervenes.
type LedgerStatus string

const (
	LedgerStatusCurrent     LedgerStatus = "CURRENT"
	LedgerStatusHistorical  LedgerStatus = "HISTORICAL"
	LedgerStatusQuarantined LedgerStatus = "QUARANTINED"
)

// QuotaKind selects which counter of the ledger entry an operation targets.
type QuotaKind string

const (
	QuotaKindPrimary   QuotaKind = "primary"
	QuotaKindSecondary QuotaKind = "secondary"
)

// UsageLedgerEntry is one user's quota counters for one billing period.
//
// Limits are denormalized from the plan at period open so enforcement never
// needs a catalog join. A nil limit means unlimited for that kind.
type UsageLedgerEntry struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	UserID             string       `gorm:"not null;index"`
	PlanID             string       `gorm:"not null"`
	Status             LedgerStatus `gorm:"type:text;not null"`
	PeriodStart        time.Time    `gorm:"not null"`
	PeriodEnd          time.Time    `gorm:"not null;index"`
	PrimaryUsed        int64        `gorm:"not null;default:0"`
	PrimaryLimit       *int64       `gorm:""`
	SecondaryUsed      int64        `gorm:"not null;default:0"`
	SecondaryLimit     *int64       `gorm:""`
	OverageUnits       int64        `gorm:"not null;default:0"`
	OverageMaxUnits    int64        `gorm:"not null;default:0"`
	OverageUnitCents   int64        `gorm:"not null;default:0"`
	OverageChargeCents int64        `gorm:"not null;default:0"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageLedgerEntry) TableName() string { return "usage_ledger_entries" }

// Expired reports whether the entry's period has ended as of now.
func (e *UsageLedgerEntry) Expired(now time.Time) bool {
	return !now.Before(e.PeriodEnd)
}

// CountersValid reports whether the entry's counters are non-negative.
// A negative counter means a double-decrement slipped through; such rows
// are quarantined rather than silently repaired.
func (e *UsageLedgerEntry) CountersValid() bool {
	return e.PrimaryUsed >= 0 && e.SecondaryUsed >= 0 && e.OverageUnits >= 0
}

// RemainingFor returns units left for the kind, or nil when unlimited.
func (e *UsageLedgerEntry) RemainingFor(kind QuotaKind) *int64 {
	var used int64
	var limit *int64
	switch kind {
	case QuotaKindPrimary:
		used, limit = e.PrimaryUsed, e.PrimaryLimit
	case QuotaKindSecondary:
		used, limit = e.SecondaryUsed, e.SecondaryLimit
	default:
		return nil
	}
	if limit == nil {
		return nil
	}
	remaining := *limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
