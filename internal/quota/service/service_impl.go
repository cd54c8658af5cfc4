package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hookforge/hookforge/internal/clock"
	obsmetrics "github.com/hookforge/hookforge/internal/observability/metrics"
	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	quotadomain "github.com/hookforge/hookforge/internal/quota/domain"
	"github.com/hookforge/hookforge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRollBatchSize = 100

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	PlanSvc plandomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	planSvc plandomain.Service
	metrics *obsmetrics.SchedulerMetrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("quota.service"),
		genID: p.GenID,
		clock: p.Clock,

		planSvc: p.PlanSvc,
		metrics: obsmetrics.Scheduler(),
	}
}

func (s *Service) EnsureCurrentPeriod(ctx context.Context, userID, planID string) (*quotadomain.UsageLedgerEntry, error) {
	if userID == "" {
		return nil, quotadomain.ErrNoCurrentPeriod
	}
	plan, err := s.planSvc.Resolve(ctx, planID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	entry, err := s.findCurrent(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if !entry.Expired(now) {
			return entry, nil
		}
		if _, _, err := s.rollEntry(ctx, entry.ID); err != nil {
			return nil, err
		}
		return s.findCurrent(ctx, s.db, userID)
	}

	fresh, err := s.openPeriod(userID, plan, now)
	if err != nil {
		return nil, err
	}
	if err := s.insertEntry(ctx, s.db, fresh); err != nil {
		// Lost a concurrent open for the same user. The winner's row is
		// authoritative, take it.
		if db.IsDuplicateKeyErr(err) {
			return s.findCurrent(ctx, s.db, userID)
		}
		return nil, err
	}
	return fresh, nil
}

func (s *Service) CheckAndConsume(ctx context.Context, userID string, kind quotadomain.QuotaKind, amount int64) (quotadomain.ConsumeResult, error) {
	if amount <= 0 {
		return quotadomain.ConsumeResult{}, quotadomain.ErrInvalidAmount
	}
	usedCol, limitCol, err := kindColumns(kind)
	if err != nil {
		return quotadomain.ConsumeResult{}, err
	}

	// Two attempts at most: a concurrent period roll can retire the entry
	// between the read and the conditional update.
	var lastEntryID snowflake.ID
	for attempt := 0; attempt < 2; attempt++ {
		entry, err := s.currentEntryRolled(ctx, userID)
		if err != nil {
			return quotadomain.ConsumeResult{}, err
		}
		if entry.ID == lastEntryID {
			break
		}
		lastEntryID = entry.ID

		now := s.clock.Now().UTC()
		res := s.db.WithContext(ctx).Exec(fmt.Sprintf(
			`UPDATE usage_ledger_entries
			 SET %[1]s = %[1]s + ?, updated_at = ?
			 WHERE id = ? AND status = ? AND (%[2]s IS NULL OR %[1]s + ? <= %[2]s)`,
			usedCol, limitCol),
			amount,
			now,
			entry.ID,
			quotadomain.LedgerStatusCurrent,
			amount,
		)
		if res.Error != nil {
			return quotadomain.ConsumeResult{}, res.Error
		}
		if res.RowsAffected == 1 {
			updated, err := s.findByID(ctx, s.db, entry.ID)
			if err != nil {
				return quotadomain.ConsumeResult{}, err
			}
			if updated == nil {
				updated = entry
			}
			s.metrics.IncQuotaDecision(string(kind), true)
			return quotadomain.ConsumeResult{Allowed: true, Remaining: updated.RemainingFor(kind)}, nil
		}

		// Either out of headroom or the entry stopped being CURRENT. If the
		// CURRENT entry changed underneath us, retry against the new period.
		fresh, err := s.findCurrent(ctx, s.db, userID)
		if err != nil {
			return quotadomain.ConsumeResult{}, err
		}
		if fresh == nil {
			return quotadomain.ConsumeResult{}, quotadomain.ErrNoCurrentPeriod
		}
		if fresh.ID == entry.ID {
			s.metrics.IncQuotaDecision(string(kind), false)
			return quotadomain.ConsumeResult{Allowed: false, Remaining: fresh.RemainingFor(kind)}, nil
		}
	}

	s.metrics.IncQuotaDecision(string(kind), false)
	return quotadomain.ConsumeResult{Allowed: false}, nil
}

func (s *Service) Refund(ctx context.Context, userID string, kind quotadomain.QuotaKind, amount int64) error {
	if amount <= 0 {
		return quotadomain.ErrInvalidAmount
	}
	usedCol, _, err := kindColumns(kind)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).Exec(fmt.Sprintf(
		`UPDATE usage_ledger_entries
		 SET %[1]s = CASE WHEN %[1]s > ? THEN %[1]s - ? ELSE 0 END, updated_at = ?
		 WHERE user_id = ? AND status = ?`,
		usedCol),
		amount,
		amount,
		now,
		userID,
		quotadomain.LedgerStatusCurrent,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return quotadomain.ErrNoCurrentPeriod
	}
	return nil
}

func (s *Service) RecordOverage(ctx context.Context, userID string, units int64) (quotadomain.OverageResult, error) {
	if units <= 0 {
		return quotadomain.OverageResult{}, quotadomain.ErrInvalidAmount
	}

	entry, err := s.currentEntryRolled(ctx, userID)
	if err != nil {
		return quotadomain.OverageResult{}, err
	}
	if entry.OverageMaxUnits <= 0 {
		return quotadomain.OverageResult{}, quotadomain.ErrOverageDisabled
	}

	now := s.clock.Now().UTC()
	amountCents := units * entry.OverageUnitCents
	res := s.db.WithContext(ctx).Exec(
		`UPDATE usage_ledger_entries
		 SET overage_units = overage_units + ?, overage_charge_cents = overage_charge_cents + ?, updated_at = ?
		 WHERE id = ? AND status = ? AND overage_units + ? <= overage_max_units`,
		units,
		amountCents,
		now,
		entry.ID,
		quotadomain.LedgerStatusCurrent,
		units,
	)
	if res.Error != nil {
		return quotadomain.OverageResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return quotadomain.OverageResult{}, quotadomain.ErrOverageCapExceeded
	}

	updated, err := s.findByID(ctx, s.db, entry.ID)
	if err != nil {
		return quotadomain.OverageResult{}, err
	}
	total := entry.OverageUnits + units
	accrued := entry.OverageChargeCents + amountCents
	if updated != nil {
		total = updated.OverageUnits
		accrued = updated.OverageChargeCents
	}
	return quotadomain.OverageResult{
		Units:        units,
		TotalUnits:   total,
		AmountCents:  amountCents,
		AccruedCents: accrued,
	}, nil
}

// Remaining reports the current period counters. It rolls an expired
// period in place first, the same lazy roll CheckAndConsume performs, so
// a snapshot taken right after a boundary never shows the closed period.
func (s *Service) Remaining(ctx context.Context, userID string) (quotadomain.Snapshot, error) {
	entry, err := s.currentEntryRolled(ctx, userID)
	if err != nil {
		return quotadomain.Snapshot{}, err
	}
	return quotadomain.Snapshot{
		PlanID:             entry.PlanID,
		PeriodStart:        entry.PeriodStart,
		PeriodEnd:          entry.PeriodEnd,
		PrimaryUsed:        entry.PrimaryUsed,
		PrimaryRemaining:   entry.RemainingFor(quotadomain.QuotaKindPrimary),
		SecondaryUsed:      entry.SecondaryUsed,
		SecondaryRemaining: entry.RemainingFor(quotadomain.QuotaKindSecondary),
		OverageUnits:       entry.OverageUnits,
		OverageMaxUnits:    entry.OverageMaxUnits,
		OverageChargeCents: entry.OverageChargeCents,
	}, nil
}

func (s *Service) RollExpired(ctx context.Context, batchSize int) (quotadomain.RollSummary, error) {
	if batchSize <= 0 {
		batchSize = defaultRollBatchSize
	}
	now := s.clock.Now().UTC()

	claimStart := time.Now()
	ids, err := s.claimExpired(ctx, now, batchSize)
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceExpiredLedgerEntries, time.Since(claimStart))
	if err != nil {
		return quotadomain.RollSummary{}, err
	}

	summary := quotadomain.RollSummary{Claimed: len(ids)}
	var errs []error
	for _, id := range ids {
		rolled, quarantined, err := s.rollEntry(ctx, id.ID)
		if err != nil {
			summary.Failures = append(summary.Failures, quotadomain.RollFailure{
				EntryID: id.ID,
				UserID:  id.UserID,
				Err:     err,
			})
			errs = append(errs, fmt.Errorf("roll entry %d: %w", id.ID, err))
			continue
		}
		if rolled {
			summary.Rolled++
		}
		if quarantined {
			summary.Quarantined++
		}
	}
	return summary, errors.Join(errs...)
}

type expiredEntry struct {
	ID     snowflake.ID
	UserID string
}

func (s *Service) claimExpired(ctx context.Context, now time.Time, batchSize int) ([]expiredEntry, error) {
	var ids []expiredEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, user_id
			 FROM usage_ledger_entries
			 WHERE status = ? AND period_end <= ?
			 ORDER BY period_end ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			quotadomain.LedgerStatusCurrent,
			now,
			batchSize,
		).Scan(&ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// rollEntry closes one expired CURRENT entry and opens its successor in a
// single transaction. A stale id (already rolled by someone else) is a no-op.
func (s *Service) rollEntry(ctx context.Context, entryID snowflake.ID) (rolled, quarantined bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.lockByID(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if entry == nil || entry.Status != quotadomain.LedgerStatusCurrent {
			return nil
		}

		now := s.clock.Now().UTC()
		if !entry.CountersValid() {
			if err := s.quarantineEntry(ctx, tx, entry); err != nil {
				return err
			}
			quarantined = true
			return nil
		}
		if !entry.Expired(now) {
			return nil
		}

		plan, perr := s.planSvc.Resolve(ctx, entry.PlanID)
		if perr != nil {
			if errors.Is(perr, plandomain.ErrUnknownPlan) || errors.Is(perr, plandomain.ErrInactivePlan) {
				if err := s.quarantineEntry(ctx, tx, entry); err != nil {
					return err
				}
				quarantined = true
				return nil
			}
			return perr
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE usage_ledger_entries SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND period_end <= ?`,
			quotadomain.LedgerStatusHistorical,
			now,
			entry.ID,
			quotadomain.LedgerStatusCurrent,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		start, end, err := catchUpPeriod(entry.PeriodEnd, plan.ResetCadence, now)
		if err != nil {
			return err
		}
		fresh := s.newEntry(entry.UserID, plan, start, end, now)
		if err := s.insertEntry(ctx, tx, fresh); err != nil {
			return err
		}

		rolled = true
		s.metrics.IncLedgerTransition(string(quotadomain.LedgerStatusCurrent), string(quotadomain.LedgerStatusHistorical))
		return nil
	})
	return rolled, quarantined, err
}

// currentEntryRolled returns the user's CURRENT entry, rolling it first if
// the period has expired. Consumption never waits for the sweep.
func (s *Service) currentEntryRolled(ctx context.Context, userID string) (*quotadomain.UsageLedgerEntry, error) {
	entry, err := s.findCurrent(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, quotadomain.ErrNoCurrentPeriod
	}
	if !entry.CountersValid() {
		if err := s.quarantineEntry(ctx, s.db, entry); err != nil {
			return nil, err
		}
		return nil, quotadomain.ErrNoCurrentPeriod
	}
	if entry.Expired(s.clock.Now().UTC()) {
		if _, _, err := s.rollEntry(ctx, entry.ID); err != nil {
			return nil, err
		}
		entry, err = s.findCurrent(ctx, s.db, userID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, quotadomain.ErrNoCurrentPeriod
		}
	}
	return entry, nil
}

func (s *Service) openPeriod(userID string, plan *plandomain.Plan, now time.Time) (*quotadomain.UsageLedgerEntry, error) {
	end, err := nextPeriodEnd(now, plan.ResetCadence)
	if err != nil {
		return nil, err
	}
	return s.newEntry(userID, plan, now, end, now), nil
}

func (s *Service) newEntry(userID string, plan *plandomain.Plan, start, end, now time.Time) *quotadomain.UsageLedgerEntry {
	limits := plan.Limits()
	return &quotadomain.UsageLedgerEntry{
		ID:               s.genID.Generate(),
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           quotadomain.LedgerStatusCurrent,
		PeriodStart:      start,
		PeriodEnd:        end,
		PrimaryLimit:     limits.Primary,
		SecondaryLimit:   limits.Secondary,
		OverageMaxUnits:  plan.MaxOverageUnits(),
		OverageUnitCents: plan.OverageUnitCents,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// quarantineEntry retires a row from automatic mutation. Used both when the
// plan can no longer be resolved and when counters are observed negative.
func (s *Service) quarantineEntry(ctx context.Context, db *gorm.DB, entry *quotadomain.UsageLedgerEntry) error {
	now := s.clock.Now().UTC()
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_ledger_entries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		quotadomain.LedgerStatusQuarantined,
		now,
		entry.ID,
		quotadomain.LedgerStatusCurrent,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		s.metrics.IncLedgerTransition(string(quotadomain.LedgerStatusCurrent), string(quotadomain.LedgerStatusQuarantined))
		s.log.Error("ledger entry quarantined",
			zap.String("user_id", entry.UserID),
			zap.String("plan_id", entry.PlanID),
			zap.Int64("primary_used", entry.PrimaryUsed),
			zap.Int64("secondary_used", entry.SecondaryUsed),
		)
	}
	return nil
}

func (s *Service) insertEntry(ctx context.Context, db *gorm.DB, entry *quotadomain.UsageLedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_ledger_entries (
			id, user_id, plan_id, status, period_start, period_end,
			primary_used, primary_limit, secondary_used, secondary_limit,
			overage_units, overage_max_units, overage_unit_cents, overage_charge_cents,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.PlanID,
		entry.Status,
		entry.PeriodStart,
		entry.PeriodEnd,
		entry.PrimaryUsed,
		entry.PrimaryLimit,
		entry.SecondaryUsed,
		entry.SecondaryLimit,
		entry.OverageUnits,
		entry.OverageMaxUnits,
		entry.OverageUnitCents,
		entry.OverageChargeCents,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

const entryColumns = `id, user_id, plan_id, status, period_start, period_end,
	 primary_used, primary_limit, secondary_used, secondary_limit,
	 overage_units, overage_max_units, overage_unit_cents, overage_charge_cents,
	 created_at, updated_at`

func (s *Service) findCurrent(ctx context.Context, db *gorm.DB, userID string) (*quotadomain.UsageLedgerEntry, error) {
	var entry quotadomain.UsageLedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM usage_ledger_entries
		 WHERE user_id = ? AND status = ?
		 LIMIT 1`,
		userID,
		quotadomain.LedgerStatusCurrent,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (s *Service) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*quotadomain.UsageLedgerEntry, error) {
	var entry quotadomain.UsageLedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM usage_ledger_entries WHERE id = ?`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (s *Service) lockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*quotadomain.UsageLedgerEntry, error) {
	var entry quotadomain.UsageLedgerEntry
	err := tx.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM usage_ledger_entries WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func kindColumns(kind quotadomain.QuotaKind) (usedCol, limitCol string, err error) {
	switch kind {
	case quotadomain.QuotaKindPrimary:
		return "primary_used", "primary_limit", nil
	case quotadomain.QuotaKindSecondary:
		return "secondary_used", "secondary_limit", nil
	default:
		return "", "", quotadomain.ErrInvalidQuotaKind
	}
}

func nextPeriodEnd(start time.Time, cadence plandomain.ResetCadence) (time.Time, error) {
	switch cadence {
	case plandomain.ResetCadenceMonthly:
		return start.AddDate(0, 1, 0), nil
	case plandomain.ResetCadenceWeekly:
		return start.AddDate(0, 0, 7), nil
	default:
		return time.Time{}, plandomain.ErrInvalidResetCadence
	}
}

// catchUpPeriod advances from the closed period's end until the new period
// covers now. A user absent for several periods gets one fresh period, not a
// backlog of empty ones.
func catchUpPeriod(lastEnd time.Time, cadence plandomain.ResetCadence, now time.Time) (time.Time, time.Time, error) {
	start := lastEnd
	end, err := nextPeriodEnd(start, cadence)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	for !end.After(now) {
		start = end
		end, err = nextPeriodEnd(start, cadence)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}
