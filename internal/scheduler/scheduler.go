package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hookforge/hookforge/internal/clock"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	obsmetrics "github.com/hookforge/hookforge/internal/observability/metrics"
	profiledomain "github.com/hookforge/hookforge/internal/profile/domain"
	quotadomain "github.com/hookforge/hookforge/internal/quota/domain"
	"github.com/hookforge/hookforge/internal/ratelimit"
	trenddomain "github.com/hookforge/hookforge/internal/trend/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	QuotaSvc   quotadomain.Service
	FormulaSvc formuladomain.Service
	TrendSvc   trenddomain.Service
	ProfileSvc profiledomain.Service

	GenID  *snowflake.Node
	Clock  clock.Clock
	Locker *ratelimit.Locker `optional:"true"`
	Config Config            `optional:"true"`
}

type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	locker *ratelimit.Locker

	quotaSvc   quotadomain.Service
	formulaSvc formuladomain.Service
	trendSvc   trenddomain.Service
	profileSvc profiledomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.QuotaSvc == nil || p.FormulaSvc == nil || p.TrendSvc == nil || p.ProfileSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    cfg,
		genID:  p.GenID,
		clock:  p.Clock,
		locker: p.Locker,

		quotaSvc:   p.QuotaSvc,
		formulaSvc: p.FormulaSvc,
		trendSvc:   p.TrendSvc,
		profileSvc: p.ProfileSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(run)
	}
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the next tick picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	release, acquired, err := s.acquireRunLock(parent)
	if err != nil {
		s.log.Warn("run lock acquisition failed", zap.Error(err))
		return nil
	}
	if !acquired {
		s.log.Debug("run lock held elsewhere, skipping tick")
		return nil
	}
	defer release()

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"sweep_periods", s.cfg.JobTimeout, s.SweepPeriodsJob},
		{"effectiveness_recalc", s.cfg.AnalyticsTimeout, s.EffectivenessRecalcJob},
		{"trend_recompute", s.cfg.AnalyticsTimeout, s.TrendRecomputeJob},
		{"profile_rebuild", s.cfg.AnalyticsTimeout, s.ProfileRebuildJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.SweepBatchSize, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// SweepPeriodsJob closes expired usage periods and opens their successors.
func (s *Scheduler) SweepPeriodsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	summary, err := s.quotaSvc.RollExpired(ctx, s.cfg.SweepBatchSize)
	run.AddProcessed(summary.Rolled + summary.Quarantined)
	obsmetrics.Scheduler().AddBatchProcessed("sweep_periods", "usage_ledger_entries", summary.Rolled+summary.Quarantined)
	for range summary.Failures {
		run.IncError()
	}
	return err
}

// EffectivenessRecalcJob rescores every active hook formula from recent feedback.
func (s *Scheduler) EffectivenessRecalcJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	summary, err := s.formulaSvc.RecalculateAll(ctx)
	run.AddProcessed(summary.Evaluated)
	obsmetrics.Scheduler().AddBatchProcessed("effectiveness_recalc", "hook_formulas", summary.Evaluated)
	for range summary.Failures {
		run.IncError()
	}
	return err
}

// TrendRecomputeJob rebuilds per-platform trend records. Runs after the
// effectiveness recalc so fatigue detection sees current ratings.
func (s *Scheduler) TrendRecomputeJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	summary, err := s.trendSvc.RecomputeAll(ctx)
	run.AddProcessed(summary.Upserted)
	obsmetrics.Scheduler().AddBatchProcessed("trend_recompute", "formula_trends", summary.Upserted)
	for range summary.Failures {
		run.IncError()
	}
	return err
}

// ProfileRebuildJob recomputes creator formula-affinity profiles.
func (s *Scheduler) ProfileRebuildJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	summary, err := s.profileSvc.RebuildAll(ctx)
	run.AddProcessed(summary.Upserted)
	obsmetrics.Scheduler().AddBatchProcessed("profile_rebuild", "creator_profiles", summary.Upserted)
	for range summary.Failures {
		run.IncError()
	}
	return err
}
