package service

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
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	perfservice "github.com/hookforge/hookforge/internal/performance/service"
	trenddomain "github.com/hookforge/hookforge/internal/trend/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	svc     trenddomain.Service
	perfSvc performancedomain.Service
	repo    formuladomain.Repository
	clock   *clock.FakeClock
	node    *snowflake.Node
}

func newTestEnv(t *testing.T, start time.Time) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range []string{
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
	repo := formularepository.Provide()
	perfSvc := perfservice.NewService(perfservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
	})
	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		FormulaRepo: repo,
		PerfSvc:     perfSvc,
		Holder:      config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig()),
	})
	return &testEnv{db: db, svc: svc, perfSvc: perfSvc, repo: repo, clock: fakeClock, node: node}
}

func (e *testEnv) seedFormula(t *testing.T, code string, rating int) {
	t.Helper()
	now := e.clock.Now()
	if err := e.repo.Upsert(context.Background(), e.db, &formuladomain.FormulaRecord{
		ID:                  e.node.Generate(),
		Code:                code,
		DisplayName:         code,
		EffectivenessRating: rating,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}); err != nil {
		t.Fatalf("seed formula %s: %v", code, err)
	}
}

func (e *testEnv) seedUsage(t *testing.T, code, platform string, count int, recordedAt time.Time, rating *float64) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := e.perfSvc.Record(context.Background(), performancedomain.RecordRequest{
			UserID:      fmt.Sprintf("user-%d", i),
			FormulaCode: code,
			Platform:    platform,
			Rating:      rating,
			WasUsed:     true,
			RecordedAt:  recordedAt,
		})
		if err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}
}

func (e *testEnv) fetchTrend(t *testing.T, code, platform string) trenddomain.TrendRecord {
	t.Helper()
	var record trenddomain.TrendRecord
	if err := e.db.Raw(
		`SELECT * FROM formula_trends WHERE formula_code = ? AND platform = ?`, code, platform,
	).Scan(&record).Error; err != nil {
		t.Fatalf("fetch trend %s/%s: %v", code, platform, err)
	}
	if record.ID == 0 {
		t.Fatalf("trend %s/%s not found", code, platform)
	}
	return record
}

func TestRecomputeAll_DirectionTieBreak(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	older := now.AddDate(0, 0, -20)
	recent := now.AddDate(0, 0, -2)

	// monthly=100 for each formula, expected weekly share = 25.
	cases := []struct {
		code   string
		weekly int
		want   trenddomain.TrendDirection
	}{
		{"f_rising", 31, trenddomain.TrendRising},   // 31 > 25*1.2
		{"f_stable", 30, trenddomain.TrendStable},   // on the band edge
		{"f_falling", 19, trenddomain.TrendFalling}, // 19 < 25*0.8
	}
	for _, tc := range cases {
		env.seedFormula(t, tc.code, 50)
		env.seedUsage(t, tc.code, "tiktok", 100-tc.weekly, older, nil)
		env.seedUsage(t, tc.code, "tiktok", tc.weekly, recent, nil)
	}

	summary, err := env.svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if summary.Upserted != 3 {
		t.Fatalf("summary = %+v, want 3 upserted", summary)
	}

	for _, tc := range cases {
		record := env.fetchTrend(t, tc.code, "tiktok")
		if record.TrendDirection != tc.want {
			t.Errorf("%s: direction = %s, want %s", tc.code, record.TrendDirection, tc.want)
		}
		if record.WeeklyUsage != int64(tc.weekly) || record.MonthlyUsage != 100 {
			t.Errorf("%s: usage = %d/%d, want %d/100", tc.code, record.WeeklyUsage, record.MonthlyUsage, tc.weekly)
		}
	}
}

func TestRecomputeAll_PerformanceScoreAndFatigue(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	recent := now.AddDate(0, 0, -2)
	rating := 4.8

	// Long-run rating 10 vs recent 4.8: gap 4.7 on the normalized scale.
	env.seedFormula(t, "f_fatigued", 10)
	env.seedUsage(t, "f_fatigued", "tiktok", 5, recent, &rating)

	// Long-run rating 90 vs recent 1.5: gap 0.6 stays under the threshold.
	lowRating := 1.5
	env.seedFormula(t, "f_healthy", 90)
	env.seedUsage(t, "f_healthy", "tiktok", 5, recent, &lowRating)

	if _, err := env.svc.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}

	fatigued := env.fetchTrend(t, "f_fatigued", "tiktok")
	if fatigued.AvgPerformanceScore != 96 {
		t.Fatalf("score = %d, want round(4.8*20) = 96", fatigued.AvgPerformanceScore)
	}
	if fatigued.FatigueLevel != 50 {
		t.Fatalf("fatigue = %d, want onset score 50", fatigued.FatigueLevel)
	}

	healthy := env.fetchTrend(t, "f_healthy", "tiktok")
	if healthy.FatigueLevel != 0 {
		t.Fatalf("fatigue = %d, want 0", healthy.FatigueLevel)
	}
	if healthy.AvgPerformanceScore != 30 {
		t.Fatalf("score = %d, want round(1.5*20) = 30", healthy.AvgPerformanceScore)
	}
}

func TestRecomputeAll_UpsertIsIdempotent(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	env.seedFormula(t, "curiosity_gap", 50)
	env.seedUsage(t, "curiosity_gap", "tiktok", 10, now.AddDate(0, 0, -2), nil)
	env.seedUsage(t, "curiosity_gap", "instagram", 4, now.AddDate(0, 0, -2), nil)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.RecomputeAll(context.Background()); err != nil {
			t.Fatalf("RecomputeAll run %d: %v", i, err)
		}
	}

	var count int64
	if err := env.db.Raw(`SELECT COUNT(1) FROM formula_trends`).Scan(&count).Error; err != nil {
		t.Fatalf("count trends: %v", err)
	}
	if count != 2 {
		t.Fatalf("trend rows = %d, want one per (formula, platform)", count)
	}

	// The rerun recomputes from source records rather than incrementing
	// prior output.
	record := env.fetchTrend(t, "curiosity_gap", "tiktok")
	if record.MonthlyUsage != 10 || record.DataPoints != 10 {
		t.Fatalf("monthly usage = %d data points = %d, want 10/10", record.MonthlyUsage, record.DataPoints)
	}
}

func TestRecomputeAll_RefreshesIdleRowsToZero(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	env.seedFormula(t, "f_aging", 50)
	env.seedUsage(t, "f_aging", "tiktok", 40, now.AddDate(0, 0, -2), nil)

	if _, err := env.svc.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("first RecomputeAll: %v", err)
	}
	before := env.fetchTrend(t, "f_aging", "tiktok")
	if before.MonthlyUsage != 40 || before.TrendDirection != trenddomain.TrendRising {
		t.Fatalf("unexpected initial row: %+v", before)
	}

	// Every record ages out of the monthly window; the row must not keep
	// reporting the old velocity.
	env.clock.Advance(60 * 24 * time.Hour)
	summary, err := env.svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("second RecomputeAll: %v", err)
	}
	if summary.Upserted != 1 {
		t.Fatalf("summary = %+v, want the idle row refreshed", summary)
	}

	after := env.fetchTrend(t, "f_aging", "tiktok")
	if after.WeeklyUsage != 0 || after.MonthlyUsage != 0 || after.DataPoints != 0 {
		t.Fatalf("stale trend row: %+v", after)
	}
	if after.TrendDirection != trenddomain.TrendStable || after.AvgPerformanceScore != 0 || after.FatigueLevel != 0 {
		t.Fatalf("idle row not zeroed: %+v", after)
	}
	if !after.LastCalculated.After(before.LastCalculated) {
		t.Fatalf("last_calculated not advanced: %v -> %v", before.LastCalculated, after.LastCalculated)
	}
}

func TestRecomputeAll_LeavesInactiveFormulaRowsAlone(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	env.seedFormula(t, "f_retiring", 50)
	env.seedUsage(t, "f_retiring", "tiktok", 10, now.AddDate(0, 0, -2), nil)

	if _, err := env.svc.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("first RecomputeAll: %v", err)
	}
	if err := env.db.Exec(`UPDATE hook_formulas SET is_active = false WHERE code = ?`, "f_retiring").Error; err != nil {
		t.Fatalf("retire formula: %v", err)
	}

	env.clock.Advance(60 * 24 * time.Hour)
	if _, err := env.svc.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("second RecomputeAll: %v", err)
	}

	record := env.fetchTrend(t, "f_retiring", "tiktok")
	if record.MonthlyUsage != 10 {
		t.Fatalf("retired formula row was rewritten: %+v", record)
	}
}

func TestRecomputeAll_SkipsUnknownFormula(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	env.seedUsage(t, "retired_formula", "tiktok", 10, now.AddDate(0, 0, -2), nil)

	summary, err := env.svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if summary.UnknownFormulas != 1 || summary.Upserted != 0 {
		t.Fatalf("summary = %+v, want 1 unknown and nothing upserted", summary)
	}
}
