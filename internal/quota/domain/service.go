package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNoCurrentPeriod    = errors.New("no_current_period")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidQuotaKind   = errors.New("invalid_quota_kind")
	ErrOverageDisabled    = errors.New("overage_disabled")
	ErrOverageCapExceeded = errors.New("overage_cap_exceeded")
)

// ConsumeResult is the outcome of a quota check.
//
// Denial is not an error: Allowed=false with a nil error means the period
// simply has no headroom left. Remaining is nil for unlimited quotas.
type ConsumeResult struct {
	Allowed   bool
	Remaining *int64
}

// OverageResult reports billed overage after RecordOverage succeeds.
type OverageResult struct {
	Units        int64
	TotalUnits   int64
	AmountCents  int64
	AccruedCents int64
}

// Snapshot is a read-only view of a user's current period.
type Snapshot struct {
	PlanID             string
	PeriodStart        time.Time
	PeriodEnd          time.Time
	PrimaryUsed        int64
	PrimaryRemaining   *int64
	SecondaryUsed      int64
	SecondaryRemaining *int64
	OverageUnits       int64
	OverageMaxUnits    int64
	OverageChargeCents int64
}

// RollFailure records one entry the sweep could not roll.
type RollFailure struct {
	EntryID snowflake.ID
	UserID  string
	Err     error
}

// RollSummary reports the outcome of one expired-period sweep.
type RollSummary struct {
	Claimed     int
	Rolled      int
	Quarantined int
	Failures    []RollFailure
}

type Service interface {
	// EnsureCurrentPeriod opens a CURRENT ledger entry for the user under
	// planID if none exists, rolling an expired one first. Safe to call
	// concurrently for the same user.
	EnsureCurrentPeriod(ctx context.Context, userID, planID string) (*UsageLedgerEntry, error)

	// CheckAndConsume atomically consumes amount units of the kind from the
	// user's current period. It rolls an expired period in place before
	// consuming. Returns ErrNoCurrentPeriod when the user has no ledger entry.
	CheckAndConsume(ctx context.Context, userID string, kind QuotaKind, amount int64) (ConsumeResult, error)

	// Refund returns amount units to the current period, clamped at zero
	// used. Refunds never resurrect a closed period.
	Refund(ctx context.Context, userID string, kind QuotaKind, amount int64) error

	// RecordOverage bills units beyond the primary limit, bounded by the
	// plan's per-period overage cap.
	RecordOverage(ctx context.Context, userID string, units int64) (OverageResult, error)

	// Remaining returns the user's current period counters.
	Remaining(ctx context.Context, userID string) (Snapshot, error)

	// RollExpired sweeps up to batchSize expired CURRENT entries, closing
	// them as HISTORICAL and opening fresh periods. One entry failing does
	// not stop the batch.
	RollExpired(ctx context.Context, batchSize int) (RollSummary, error)
}
