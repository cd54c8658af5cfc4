package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hookforge/hookforge/internal/clock"
	"github.com/hookforge/hookforge/internal/config"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	formularepository "github.com/hookforge/hookforge/internal/formula/repository"
	formulaservice "github.com/hookforge/hookforge/internal/formula/service"
	obsmetrics "github.com/hookforge/hookforge/internal/observability/metrics"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	perfservice "github.com/hookforge/hookforge/internal/performance/service"
	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	planrepository "github.com/hookforge/hookforge/internal/plan/repository"
	planservice "github.com/hookforge/hookforge/internal/plan/service"
	profiledomain "github.com/hookforge/hookforge/internal/profile/domain"
	profileservice "github.com/hookforge/hookforge/internal/profile/service"
	quotadomain "github.com/hookforge/hookforge/internal/quota/domain"
	quotaservice "github.com/hookforge/hookforge/internal/quota/service"
	trendservice "github.com/hookforge/hookforge/internal/trend/service"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerEnv struct {
	db         *gorm.DB
	sched      *Scheduler
	quotaSvc   quotadomain.Service
	perfSvc    performancedomain.Service
	profileSvc profiledomain.Service
	clock      *clock.FakeClock
}

func int64ptr(v int64) *int64 { return &v }

func newSchedulerEnv(t *testing.T, start time.Time, cfg Config) *schedulerEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// SQLite support hack: remove FOR UPDATE clauses
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range []string{
		`CREATE TABLE plans (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			primary_limit INTEGER,
			secondary_limit INTEGER,
			reset_cadence TEXT NOT NULL,
			overage_max_fraction REAL NOT NULL DEFAULT 0,
			overage_unit_cents INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE usage_ledger_entries (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			status TEXT NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			primary_used INTEGER NOT NULL DEFAULT 0,
			primary_limit INTEGER,
			secondary_used INTEGER NOT NULL DEFAULT 0,
			secondary_limit INTEGER,
			overage_units INTEGER NOT NULL DEFAULT 0,
			overage_max_units INTEGER NOT NULL DEFAULT 0,
			overage_unit_cents INTEGER NOT NULL DEFAULT 0,
			overage_charge_cents INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_ledger_current_user
		 ON usage_ledger_entries (user_id) WHERE status = 'CURRENT'`,
		`CREATE TABLE performance_records (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			formula_code TEXT NOT NULL,
			platform TEXT NOT NULL,
			rating REAL,
			was_used BOOLEAN NOT NULL DEFAULT false,
			was_favorited BOOLEAN NOT NULL DEFAULT false,
			recorded_at DATETIME NOT NULL,
			created_at DATETIME
		)`,
		`CREATE TABLE hook_formulas (
			id INTEGER PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			effectiveness_rating INTEGER NOT NULL DEFAULT 50,
			avg_engagement_rate INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE formula_trends (
			id INTEGER PRIMARY KEY,
			formula_code TEXT NOT NULL,
			platform TEXT NOT NULL,
			weekly_usage INTEGER NOT NULL DEFAULT 0,
			monthly_usage INTEGER NOT NULL DEFAULT 0,
			avg_performance_score INTEGER NOT NULL DEFAULT 0,
			trend_direction TEXT NOT NULL,
			fatigue_level INTEGER NOT NULL DEFAULT 0,
			data_points INTEGER NOT NULL DEFAULT 0,
			last_calculated DATETIME NOT NULL,
			created_at DATETIME,
			updated_at DATETIME,
			UNIQUE (formula_code, platform)
		)`,
		`CREATE TABLE creator_profiles (
			user_id TEXT PRIMARY KEY,
			successful_formulas TEXT,
			underperforming_formulas TEXT,
			last_updated DATETIME NOT NULL,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fakeClock := clock.NewFakeClock(start)
	holder := config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig())
	log := zap.NewNop()

	planRepo := planrepository.Provide()
	planSvc := planservice.NewService(planservice.Params{DB: db, Repo: planRepo})
	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fakeClock,
		PlanSvc: planSvc,
	})
	perfSvc := perfservice.NewService(perfservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
	})
	formulaRepo := formularepository.Provide()
	formulaSvc := formulaservice.NewService(formulaservice.ServiceParam{
		DB:      db,
		Log:     log,
		Clock:   fakeClock,
		Repo:    formulaRepo,
		PerfSvc: perfSvc,
		Holder:  holder,
	})
	trendSvc := trendservice.NewService(trendservice.ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		FormulaRepo: formulaRepo,
		PerfSvc:     perfSvc,
		Holder:      holder,
	})
	profileSvc := profileservice.NewService(profileservice.ServiceParam{
		DB:      db,
		Log:     log,
		Clock:   fakeClock,
		PerfSvc: perfSvc,
		Holder:  holder,
	})

	now := fakeClock.Now()
	if err := planRepo.Upsert(context.Background(), db, &plandomain.Plan{
		ID:             "free",
		DisplayName:    "Free",
		PrimaryLimit:   int64ptr(5),
		SecondaryLimit: int64ptr(1),
		ResetCadence:   plandomain.ResetCadenceWeekly,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := formulaRepo.Upsert(context.Background(), db, &formuladomain.FormulaRecord{
		ID:                  node.Generate(),
		Code:                "curiosity_gap",
		DisplayName:         "Curiosity Gap",
		EffectivenessRating: 50,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}); err != nil {
		t.Fatalf("seed formula: %v", err)
	}

	sched, err := New(Params{
		DB:         db,
		Log:        log,
		QuotaSvc:   quotaSvc,
		FormulaSvc: formulaSvc,
		TrendSvc:   trendSvc,
		ProfileSvc: profileSvc,
		GenID:      node,
		Clock:      fakeClock,
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &schedulerEnv{
		db:         db,
		sched:      sched,
		quotaSvc:   quotaSvc,
		perfSvc:    perfSvc,
		profileSvc: profileSvc,
		clock:      fakeClock,
	}
}

func (e *schedulerEnv) seedFeedback(t *testing.T, userID string, count int, rating float64, at time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		r := rating
		if _, err := e.perfSvc.Record(context.Background(), performancedomain.RecordRequest{
			UserID:       userID,
			FormulaCode:  "curiosity_gap",
			Platform:     "tiktok",
			Rating:       &r,
			WasFavorited: true,
			WasUsed:      true,
			RecordedAt:   at,
		}); err != nil {
			t.Fatalf("record feedback: %v", err)
		}
	}
}

func TestRunOnceRollsPeriodsAndRefreshesAnalytics(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	env := newSchedulerEnv(t, start, Config{})
	ctx := context.Background()

	if _, err := env.quotaSvc.EnsureCurrentPeriod(ctx, "u1", "free"); err != nil {
		t.Fatalf("ensure period: %v", err)
	}
	env.clock.Advance(8 * 24 * time.Hour)
	env.seedFeedback(t, "u1", 12, 4.0, env.clock.Now().Add(-time.Hour))

	if err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var statuses []string
	if err := env.db.Raw(
		`SELECT status FROM usage_ledger_entries WHERE user_id = ? ORDER BY period_start ASC`,
		"u1",
	).Scan(&statuses).Error; err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != string(quotadomain.LedgerStatusHistorical) || statuses[1] != string(quotadomain.LedgerStatusCurrent) {
		t.Fatalf("expected [HISTORICAL CURRENT], got %v", statuses)
	}

	// round((4.0/5*0.4 + 1*0.3 + 1*0.3)*100) = 92, far past the damping band.
	var rating int
	if err := env.db.Raw(
		`SELECT effectiveness_rating FROM hook_formulas WHERE code = ?`, "curiosity_gap",
	).Scan(&rating).Error; err != nil {
		t.Fatalf("query formula: %v", err)
	}
	if rating != 92 {
		t.Fatalf("expected effectiveness 92, got %d", rating)
	}

	// The trend job runs after the recalc, so fatigue sees the fresh rating:
	// gap 4.0 - 0.92 > 1.0 triggers the onset level.
	var trend struct {
		MonthlyUsage        int
		AvgPerformanceScore int
		FatigueLevel        int
	}
	if err := env.db.Raw(
		`SELECT monthly_usage, avg_performance_score, fatigue_level
		 FROM formula_trends WHERE formula_code = ? AND platform = ?`,
		"curiosity_gap", "tiktok",
	).Scan(&trend).Error; err != nil {
		t.Fatalf("query trend: %v", err)
	}
	if trend.MonthlyUsage != 12 || trend.AvgPerformanceScore != 80 || trend.FatigueLevel != 50 {
		t.Fatalf("unexpected trend row: %+v", trend)
	}

	profile, err := env.profileSvc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile == nil {
		t.Fatal("expected profile for u1")
	}
	successful, err := profile.Successful()
	if err != nil {
		t.Fatalf("decode successful: %v", err)
	}
	if len(successful) != 1 || successful[0] != "curiosity_gap" {
		t.Fatalf("expected [curiosity_gap], got %v", successful)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	env := newSchedulerEnv(t, start, Config{})
	ctx := context.Background()

	if _, err := env.quotaSvc.EnsureCurrentPeriod(ctx, "u1", "free"); err != nil {
		t.Fatalf("ensure period: %v", err)
	}
	env.clock.Advance(8 * 24 * time.Hour)
	env.seedFeedback(t, "u1", 12, 4.0, env.clock.Now().Add(-time.Hour))

	if err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var ledgerRows int64
	if err := env.db.Raw(
		`SELECT COUNT(1) FROM usage_ledger_entries WHERE user_id = ?`, "u1",
	).Scan(&ledgerRows).Error; err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	if ledgerRows != 2 {
		t.Fatalf("expected 2 ledger rows after rerun, got %d", ledgerRows)
	}

	var trendRows int64
	if err := env.db.Raw(`SELECT COUNT(1) FROM formula_trends`).Scan(&trendRows).Error; err != nil {
		t.Fatalf("count trend rows: %v", err)
	}
	if trendRows != 1 {
		t.Fatalf("expected 1 trend row after rerun, got %d", trendRows)
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	env := newSchedulerEnv(t, start, Config{EnabledJobs: []string{"sweep_periods"}})
	ctx := context.Background()

	env.seedFeedback(t, "u1", 12, 4.0, env.clock.Now().Add(-time.Hour))
	if err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var trendRows int64
	if err := env.db.Raw(`SELECT COUNT(1) FROM formula_trends`).Scan(&trendRows).Error; err != nil {
		t.Fatalf("count trend rows: %v", err)
	}
	if trendRows != 0 {
		t.Fatalf("expected no trend rows with only sweep enabled, got %d", trendRows)
	}
}
